// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command diodectl is the operator CLI for talking to a running s1 or s2
// daemon over its unix control socket.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/godiode/internal/control"
)

var VERSION = "SELFBUILD"

func main() {
	myApp := cli.NewApp()
	myApp.Name = "diodectl"
	myApp.Usage = "talk to a running s1/s2 control socket"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "socket", Value: "/var/run/diode/s1.sock", Usage: "control socket path"},
	}
	myApp.Commands = []cli.Command{
		{
			Name:  "status",
			Usage: "print the daemon's current status line",
			Action: func(c *cli.Context) error {
				return sendAndPrint(c.GlobalString("socket"), "STATUS")
			},
		},
		{
			Name:      "reset",
			Usage:     "clear rate-limiter state for one source IP",
			ArgsUsage: "<ip>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("usage: diodectl reset <ip>")
				}
				return sendAndPrint(c.GlobalString("socket"), "RESET "+c.Args().Get(0))
			},
		},
		{
			Name:  "health",
			Usage: "report whether the daemon considers itself healthy",
			Action: func(c *cli.Context) error {
				return sendAndPrint(c.GlobalString("socket"), "HEALTH")
			},
		},
	}

	if err := myApp.Run(os.Args); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func sendAndPrint(socketPath, cmd string) error {
	client := control.NewClient(socketPath)
	reply, err := client.Send(cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", socketPath, err)
	}
	fmt.Println(reply)
	return nil
}
