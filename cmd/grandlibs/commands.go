package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/grandlibs/internal"
	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/service"
)

func installCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Fetch, patch and build the native libraries",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Rebuild even when up to date"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStack(ctx, cmd, func(ctx context.Context, st *internal.Stack) error {
				results, err := st.Service.Install(ctx, cmd.Bool("force"))
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, renderInstall(results))
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show pinned and installed revisions",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStack(ctx, cmd, func(_ context.Context, st *internal.Stack) error {
				libs, err := st.Service.Status()
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, renderStatus(libs))
				return nil
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent provisioning attempts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "library", Aliases: []string{"l"}, Usage: "Only show this library"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum entries"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withStack(ctx, cmd, func(_ context.Context, st *internal.Stack) error {
				if st.Ledger == nil {
					return fmt.Errorf("history is disabled (ledger.path is empty)")
				}
				entries, err := st.Ledger.List(cmd.String("library"), int(cmd.Int("limit")))
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, renderHistory(entries))
				return nil
			})
		},
	}
}

func floats(name, usage string) cli.Flag {
	return &cli.FloatSliceFlag{Name: name, Usage: usage + " (repeat or comma-separate for a batch)"}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ecefCommand() *cli.Command {
	return &cli.Command{
		Name:  "ecef",
		Usage: "Coordinate transforms through TURTLE",
		Commands: []*cli.Command{
			{
				Name:  "from-geodetic",
				Usage: "Geodetic coordinates to ECEF positions",
				Flags: []cli.Flag{
					floats("latitude", "Latitude in degrees"),
					floats("longitude", "Longitude in degrees"),
					floats("altitude", "Altitude in metres"),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStack(ctx, cmd, func(ctx context.Context, st *internal.Stack) error {
						ecef, err := st.Service.ECEFFromGeodetic(ctx,
							cmd.FloatSlice("latitude"), cmd.FloatSlice("longitude"), cmd.FloatSlice("altitude"))
						if err != nil {
							return err
						}
						return printJSON(map[string]any{"ecef": ecef})
					})
				},
			},
			{
				Name:  "to-geodetic",
				Usage: "ECEF positions to geodetic coordinates",
				Flags: []cli.Flag{
					floats("ecef", "Position components x,y,z in metres"),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStack(ctx, cmd, func(ctx context.Context, st *internal.Stack) error {
						lat, lon, alt, err := st.Service.ECEFToGeodetic(ctx, cmd.FloatSlice("ecef"))
						if err != nil {
							return err
						}
						return printJSON(map[string]any{"latitude": lat, "longitude": lon, "altitude": alt})
					})
				},
			},
			{
				Name:  "from-horizontal",
				Usage: "Horizontal angles to ECEF directions",
				Flags: []cli.Flag{
					floats("latitude", "Observer latitude in degrees"),
					floats("longitude", "Observer longitude in degrees"),
					floats("azimuth", "Azimuth in degrees"),
					floats("elevation", "Elevation in degrees"),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStack(ctx, cmd, func(ctx context.Context, st *internal.Stack) error {
						dir, err := st.Service.ECEFFromHorizontal(ctx,
							cmd.FloatSlice("latitude"), cmd.FloatSlice("longitude"),
							cmd.FloatSlice("azimuth"), cmd.FloatSlice("elevation"))
						if err != nil {
							return err
						}
						return printJSON(map[string]any{"direction": dir})
					})
				},
			},
			{
				Name:  "to-horizontal",
				Usage: "ECEF directions to horizontal angles",
				Flags: []cli.Flag{
					floats("latitude", "Observer latitude in degrees"),
					floats("longitude", "Observer longitude in degrees"),
					floats("direction", "Direction components x,y,z"),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withStack(ctx, cmd, func(ctx context.Context, st *internal.Stack) error {
						az, el, err := st.Service.ECEFToHorizontal(ctx,
							cmd.FloatSlice("latitude"), cmd.FloatSlice("longitude"), cmd.FloatSlice("direction"))
						if err != nil {
							return err
						}
						return printJSON(map[string]any{"azimuth": az, "elevation": el})
					})
				},
			},
		},
	}
}

func fieldCommand() *cli.Command {
	return &cli.Command{
		Name:  "field",
		Usage: "Geomagnetic field through GULL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Value: "IGRF12", Usage: "Model name"},
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Date as YYYY-MM-DD", Required: true},
			floats("latitude", "Latitude in degrees"),
			floats("longitude", "Longitude in degrees"),
			floats("altitude", "Altitude in metres, defaults to 0"),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			date, err := time.Parse("2006-01-02", cmd.String("date"))
			if err != nil {
				return apperr.Invalid("field", "must be formatted as YYYY-MM-DD", "date")
			}
			return withStack(ctx, cmd, func(ctx context.Context, st *internal.Stack) error {
				res, err := st.Service.Field(ctx, service.FieldQuery{
					Model:     cmd.String("model"),
					Date:      date,
					Latitude:  cmd.FloatSlice("latitude"),
					Longitude: cmd.FloatSlice("longitude"),
					Altitude:  cmd.FloatSlice("altitude"),
				})
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}
