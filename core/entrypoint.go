package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"reflect"

	"github.com/encodeous/orpl/state"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the console logger, optionally teeing into a log file.
// The returned closer releases the log file.
func NewLogger(prefix string, level slog.Level, logPath string) (*slog.Logger, io.Closer, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: prefix,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	var closer io.Closer = io.NopCloser(nil)
	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// LogEvent writes a router event to the node logger. Warn events are always visible,
// trace events only at debug level.
func LogEvent(log *slog.Logger, event RouterEvent, desc string, args ...any) {
	if event.IsWarning() {
		log.Warn(event.String()+" "+desc, args...)
	} else {
		log.Debug(event.String()+" "+desc, args...)
	}
}

// Start validates the configuration, builds the node state and initializes the engine modules.
func Start(env *state.Env, r Router) (*Node, error) {
	if err := state.OrplConfigValidator(&env.OrplCfg); err != nil {
		return nil, err
	}
	if env.Context == nil {
		env.Context, env.Cancel = context.WithCancelCause(context.Background())
	}
	if env.Log == nil {
		env.Log = slog.New(slog.DiscardHandler)
	}
	s, err := state.NewState(env)
	if err != nil {
		return nil, err
	}

	n := &Node{env: env, state: s}
	_, err = env.DispatchWait(func(s *state.State) (any, error) {
		return nil, initModules(s, &Engine{router: r})
	})
	if err != nil {
		return nil, err
	}
	s.Log.Debug("orpl initialized", "id", s.Id, "sink", s.IsSink, "addr", s.IpAddr, "lladdr", s.LinkAddr)
	return n, nil
}

func initModules(s *state.State, modules ...state.NyModule) error {
	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the node and cleans up its modules. It is safe to call more than once.
func Stop(s *state.State) {
	if s.Context.Err() == nil {
		s.Cancel(context.Canceled)
	}
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	clear(s.Modules)
}
