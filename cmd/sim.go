package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/orpl/core"
	"github.com/encodeous/orpl/perf"
	"github.com/encodeous/orpl/sim"
	"github.com/encodeous/orpl/state"
	"github.com/spf13/cobra"
)

var simCmd = &cobra.Command{
	Use:   "sim <topology.yaml>",
	Short: "Simulate a topology and print delivery statistics",
	Long: `Runs every node of the topology on a simulated duty-cycled radio. By default the run
is as fast as possible in virtual time; --realtime paces it against the wall clock so the
metrics endpoint can be watched while it progresses.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := state.LoadTopology(args[0])
		if err != nil {
			panic(err)
		}
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			cfg.Duration = d
		}
		if seed, _ := cmd.Flags().GetUint64("seed"); seed != 0 {
			cfg.Seed = seed
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}
		logPath, _ := cmd.Flags().GetString("log")
		log, closer, err := core.NewLogger("sim", level, logPath)
		if err != nil {
			panic(err)
		}
		defer closer.Close()

		var metrics *perf.NodeMetrics
		if addr, _ := cmd.Flags().GetString("metrics"); addr != "" {
			metrics = perf.NewNodeMetrics()
			http.Handle("/metrics", metrics.Handler())
			go func() {
				err := http.ListenAndServe(addr, nil)
				if err != nil {
					log.Error("metrics server stopped", "error", err)
				}
			}()
			log.Info("serving metrics", "addr", addr)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// interrupting a realtime run still reports the state reached so far
		network, err := sim.New(context.Background(), cfg, log, metrics)
		if err != nil {
			panic(err)
		}
		defer network.Stop()

		kills, _ := cmd.Flags().GetStringSlice("kill")
		for _, k := range kills {
			id, at, err := parseKill(k)
			if err != nil {
				panic(err)
			}
			if err := network.KillAt(id, at); err != nil {
				panic(err)
			}
		}

		start := time.Now()
		if ok, _ := cmd.Flags().GetBool("realtime"); ok {
			err = network.RunRealtime(ctx, clock.New())
			if err != nil && ctx.Err() == nil {
				panic(err)
			}
		} else {
			network.Run()
		}
		log.Info("simulation finished", "virtual", network.Now(), "wall", time.Since(start))

		err = network.Report(os.Stdout)
		if err != nil {
			panic(err)
		}
		if ok, _ := cmd.Flags().GetBool("dump"); ok {
			for _, node := range network.Nodes() {
				fmt.Println()
				if err := node.Dump(os.Stdout); err != nil {
					panic(err)
				}
			}
		}
	},
	GroupID: "sim",
}

// parseKill reads an "id@time" kill schedule, e.g. 4@3m.
func parseKill(s string) (state.NodeId, time.Duration, error) {
	idStr, atStr, ok := strings.Cut(s, "@")
	if !ok {
		return 0, 0, fmt.Errorf("invalid kill %q, expected id@time", s)
	}
	id, err := strconv.ParseUint(idStr, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid node id in kill %q: %w", s, err)
	}
	at, err := time.ParseDuration(atStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time in kill %q: %w", s, err)
	}
	return state.NodeId(id), at, nil
}

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().BoolP("verbose", "v", false, "Verbose output, including every routing event")
	simCmd.Flags().StringP("log", "l", "", "Also write logs to this file")
	simCmd.Flags().DurationP("duration", "d", 0, "Override the simulated duration")
	simCmd.Flags().Uint64P("seed", "s", 0, "Override the topology seed")
	simCmd.Flags().StringP("metrics", "m", "", "Serve prometheus metrics on this address, e.g. :9100")
	simCmd.Flags().BoolP("realtime", "r", false, "Pace the simulation against the wall clock")
	simCmd.Flags().StringSlice("kill", nil, "Kill a node during the run, as id@time, e.g. 4@3m")
	simCmd.Flags().Bool("dump", false, "Print the neighbour table and routing set of every node after the run")
}
