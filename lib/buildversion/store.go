// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildversion

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStoreClosed is returned by Store methods after Close.
var ErrStoreClosed = errors.New("version store closed")

// Store serializes writes to version files. One goroutine applies every
// update in arrival order; reads go straight to the file.
type Store struct {
	logger         *slog.Logger
	newProductCode func() string

	requests chan func()
	stop     chan struct{}
	done     chan struct{}
}

// StoreConfig holds the dependencies of a Store.
type StoreConfig struct {
	Logger *slog.Logger

	// NewProductCode generates installer product codes. Defaults to
	// NewProductCode.
	NewProductCode func() string
}

// NewStore starts a Store. Close stops it.
func NewStore(config StoreConfig) *Store {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.NewProductCode == nil {
		config.NewProductCode = NewProductCode
	}
	store := &Store{
		logger:         config.Logger,
		newProductCode: config.NewProductCode,
		requests:       make(chan func()),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go store.loop()
	return store
}

func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case request := <-s.requests:
			request()
		case <-s.stop:
			return
		}
	}
}

// Close stops the writer goroutine and waits for an in-flight update to
// finish. Safe to call more than once.
func (s *Store) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// submit runs fn on the writer goroutine and returns its result.
func submit[T any](ctx context.Context, s *Store, fn func() (T, error)) (T, error) {
	type reply struct {
		value T
		err   error
	}
	replies := make(chan reply, 1)
	request := func() {
		value, err := fn()
		replies <- reply{value, err}
	}
	var zero T
	select {
	case s.requests <- request:
	case <-s.stop:
		return zero, ErrStoreClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	// Once accepted the update runs to completion; waiting for it keeps
	// the caller's view consistent with the file.
	result := <-replies
	return result.value, result.err
}

// Read returns the version recorded in source.
func (s *Store) Read(source Source) (string, error) {
	return source.Read()
}

// Publish records version in source.
func (s *Store) Publish(ctx context.Context, source Source, version string) (Update, error) {
	update, err := submit(ctx, s, func() (Update, error) {
		return source.write(version)
	})
	if err == nil && update.Changed {
		s.logger.Info("published build version",
			"path", source.Path,
			"previous", update.Previous,
			"version", update.Version,
		)
	}
	return update, err
}

// StampToday records today's date (in now's location) as the version.
// A file already stamped today is left unchanged.
func (s *Store) StampToday(ctx context.Context, source Source, now time.Time) (Update, error) {
	return s.Publish(ctx, source, Today(now))
}

// SyncInstaller sets the installer project at path to version. See
// InstallerUpdate for what changes.
func (s *Store) SyncInstaller(ctx context.Context, path, version string) (InstallerUpdate, error) {
	update, err := submit(ctx, s, func() (InstallerUpdate, error) {
		return syncInstaller(path, version, s.newProductCode)
	})
	if err == nil && update.Changed {
		s.logger.Info("synchronized installer version",
			"path", path,
			"previous", update.Previous,
			"version", update.Version,
			"product_code", update.ProductCode,
		)
	}
	return update, err
}
