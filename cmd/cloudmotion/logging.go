package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/network"
	"github.com/banshee-data/cloudmotion/internal/lidar/pipeline"
	"github.com/banshee-data/cloudmotion/internal/lidar/posebuffer"
	"github.com/banshee-data/cloudmotion/internal/lidar/storage/sqlite"
	"github.com/banshee-data/cloudmotion/internal/lidar/visualiser"
)

// openLogWriter maps a -log-* flag value to a writer. "off" or "" disables
// the stream; anything other than stdout/stderr is a file opened for append.
func openLogWriter(dest string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(dest)) {
	case "", "off", "none":
		return nil, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", dest, err)
	}
	return f, f, nil
}

// logStreams holds the three configured writers and any files backing them.
type logStreams struct {
	ops, diag, trace io.Writer
	closers          []io.Closer
}

func openLogStreams(ops, diag, trace string) (*logStreams, error) {
	s := &logStreams{}
	for _, target := range []struct {
		dest string
		w    *io.Writer
	}{{ops, &s.ops}, {diag, &s.diag}, {trace, &s.trace}} {
		w, c, err := openLogWriter(target.dest)
		if err != nil {
			s.Close()
			return nil, err
		}
		*target.w = w
		if c != nil {
			s.closers = append(s.closers, c)
		}
	}
	return s, nil
}

// apply configures every package's log streams.
func (s *logStreams) apply() {
	for _, set := range []func(ops, diag, trace io.Writer){
		l2frames.SetLogWriters,
		posebuffer.SetLogWriters,
		pipeline.SetLogWriters,
		network.SetLogWriters,
		visualiser.SetLogWriters,
		sqlite.SetLogWriters,
	} {
		set(s.ops, s.diag, s.trace)
	}
}

func (s *logStreams) Close() {
	for _, c := range s.closers {
		c.Close()
	}
}
