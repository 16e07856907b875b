package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/castor"
	"github.com/achilleasa/castor/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	configFlag := cli.StringFlag{
		Name:  "config, c",
		Usage: "device configuration as comma separated key=value pairs (verbose, threads, memory_mb)",
	}

	app := cli.NewApp()
	app.Name = "castor"
	app.Usage = "build and query ray intersection indices"
	app.Version = castor.Version
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "info",
			Usage:  "print the engine configuration for a device config string",
			Flags:  []cli.Flag{configFlag},
			Action: cmd.Info,
		},
		{
			Name:  "bench",
			Usage: "measure intersection throughput against a randomized mesh",
			Description: `
Scatter jittered unit triangles inside a 2000-unit cube centered at the
origin, commit a high quality index and intersect a packet of rays fired
from the origin in random directions. Reports the hit fraction, the ray
throughput and the size of the committed index.`,
			Flags: []cli.Flag{
				configFlag,
				cli.IntFlag{
					Name:  "triangles, t",
					Value: 1000000,
					Usage: "triangles in the benchmark mesh",
				},
				cli.IntFlag{
					Name:  "rays, r",
					Value: 1000000,
					Usage: "rays to trace",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 0,
					Usage: "seed for the mesh and ray randomizer",
				},
			},
			Action: cmd.Bench,
		},
		{
			Name:  "trace",
			Usage: "estimate pi by tracing an orthographic grid against a sphere",
			Description: `
Tessellate a unit sphere, commit it and trace one orthographic ray per grid
cell through an image plane spanning [-1, 1] on both axes. The fraction of
rays hitting the sphere silhouette estimates pi/4.`,
			Flags: []cli.Flag{
				configFlag,
				cli.IntFlag{
					Name:  "width",
					Value: 1024,
					Usage: "grid width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 1024,
					Usage: "grid height",
				},
				cli.IntFlag{
					Name:  "segments",
					Value: 256,
					Usage: "sphere tessellation segments",
				},
			},
			Action: cmd.Trace,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
