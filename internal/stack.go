package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/grandlibs/internal/ledger"
	"github.com/starford/grandlibs/internal/meta"
	"github.com/starford/grandlibs/internal/provision"
	"github.com/starford/grandlibs/internal/service"
	"github.com/starford/grandlibs/internal/storage"
)

var errConfigRequired = errors.New("config is required")

// Stack is the set of components shared by every entry point: the install
// tree, its records, the optional history and the service on top.
type Stack struct {
	Lib      *storage.FS
	Data     *storage.FS
	Meta     *meta.Store
	Ledger   *ledger.DB
	Pipeline *provision.Pipeline
	Service  *service.Service
}

// Open wires a Stack from cfg. notify, if non-nil, receives service events.
func Open(cfg *Config, logger *slog.Logger, notify func(service.Event)) (*Stack, error) {
	if cfg == nil {
		return nil, errConfigRequired
	}
	lib, err := storage.OpenFS(cfg.Install.LibDir)
	if err != nil {
		return nil, fmt.Errorf("init lib dir: %w", err)
	}
	data, err := storage.OpenFS(cfg.Install.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init data dir: %w", err)
	}

	st := &Stack{Lib: lib, Data: data, Meta: meta.NewStore(lib)}

	popts := []provision.Option{
		provision.WithLogger(logger),
		provision.WithJobs(cfg.Install.Jobs),
	}
	if cfg.Install.TmpDir != "" {
		if err := os.MkdirAll(cfg.Install.TmpDir, 0o755); err != nil {
			return nil, fmt.Errorf("create tmp dir: %w", err)
		}
		popts = append(popts, provision.WithTempDir(cfg.Install.TmpDir))
	}
	if cfg.Ledger.Enabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		db, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		st.Ledger = db
		popts = append(popts, provision.WithRecorder(db))
	}
	st.Pipeline = provision.New(lib, data, st.Meta, popts...)

	sopts := []service.Option{service.WithLogger(logger)}
	if notify != nil {
		sopts = append(sopts, service.WithNotify(notify))
	}
	st.Service = service.New(service.NewNativeBackend(st.Pipeline, st.Meta), sopts...)
	return st, nil
}

// History returns the ledger, or nil when history is disabled.
func (s *Stack) History() HistorySource {
	if s.Ledger == nil {
		return nil
	}
	return s.Ledger
}

// HistorySource lists recorded provisioning attempts.
type HistorySource interface {
	List(library string, limit int) ([]ledger.Entry, error)
}

// Close releases the libraries and the ledger.
func (s *Stack) Close() error {
	err := s.Service.Close()
	if s.Ledger != nil {
		err = errors.Join(err, s.Ledger.Close())
	}
	return err
}
