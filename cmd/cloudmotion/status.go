package main

import (
	"net/http"
	"time"

	"github.com/banshee-data/cloudmotion/internal/httputil"
	"github.com/banshee-data/cloudmotion/internal/lidar/l2frames"
	"github.com/banshee-data/cloudmotion/internal/lidar/network"
	"github.com/banshee-data/cloudmotion/internal/lidar/visualiser"
	"github.com/banshee-data/cloudmotion/internal/version"
)

type status struct {
	Version    version.Info              `json:"version"`
	Uptime     string                    `json:"uptime"`
	Assembler  l2frames.AssemblerStats   `json:"assembler"`
	Receiver   network.ReceiverStats     `json:"receiver"`
	Visualiser visualiser.PublisherStats `json:"visualiser"`
}

// statusHandler reports build information and live transport counters.
func statusHandler(recv *network.Receiver, asm *l2frames.FrameAssembler, pub *visualiser.Publisher) http.Handler {
	started := time.Now()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGET(w, r) {
			return
		}
		httputil.WriteJSONOK(w, status{
			Version:    version.Get(),
			Uptime:     time.Since(started).Round(time.Second).String(),
			Assembler:  asm.Stats(),
			Receiver:   recv.Stats(),
			Visualiser: pub.Stats(),
		})
	})
}
