// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command dflow-demo wires a small signal-generator -> passthrough ->
// aggregator pipeline and runs it until interrupted, exposing Prometheus
// metrics on -metrics-addr and periodically logging the aggregated sample
// count. It exists to exercise the engine end to end; it is not part of the
// core and carries no wire protocol or persisted state of its own.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dflow"
	"dflow/internal/dlog"
	"dflow/internal/metrics"
)

// snapshot is one JSONL record of an aggregator array at a point in time.
// The demo is the only thing that writes this format; it doesn't warrant a
// dedicated package.
type snapshot struct {
	Filter  string    `json:"filter"`
	Input   int       `json:"input"`
	Time    time.Time `json:"time"`
	Samples []float32 `json:"samples"`
}

func main() {
	var (
		waveform    = flag.String("waveform", "sine", "square|sine|triangle|sawtooth")
		frequency   = flag.Float64("frequency", 0.01, "cycles per sample")
		amplitude   = flag.Float64("amplitude", 1.0, "signal amplitude")
		capacityExp = flag.Uint("capacity-exp", 6, "log2 batch capacity")
		budgetBytes = flag.Int("budget-bytes", 1<<20, "aggregator byte budget")
		metricsAddr = flag.String("metrics-addr", ":9090", "Prometheus /metrics listen address")
		recordPath  = flag.String("record", "", "optional JSONL path to record aggregator snapshots to")
		logLevel    = flag.String("log-level", "info", "logrus level")
		duration    = flag.Duration("duration", 5*time.Second, "how long to run before stopping")
	)
	flag.Parse()

	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		dlog.SetLevel(lvl)
	}
	log := dlog.Logger()

	wave, err := parseWaveform(*waveform)
	if err != nil {
		log.WithError(err).Fatal("invalid -waveform")
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		log.WithError(err).Fatal("failed to register metrics")
	}
	httpSrv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		log.WithField("addr", *metricsAddr).Info("serving /metrics")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	source := dflow.NewSignalGenerator(dflow.SignalGeneratorOptions{
		Name:        "source",
		Waveform:    wave,
		Frequency:   *frequency,
		Amplitude:   *amplitude,
		CapacityExp: *capacityExp,
	})
	identity := dflow.NewFilter(dflow.DtypeFloat32, *capacityExp, dflow.FilterOptions{
		Name:        "identity",
		InputArity:  1,
		OutputArity: 1,
		Transform: dflow.Transform{
			Kind: dflow.TransformNative,
			Native: func(inputs []dflow.Batch, outputs []dflow.Batch) {
				in := inputs[0]
				switch in.Dtype {
				case dflow.DtypeFloat32:
					n := copy(outputs[0].Float32, in.Float32[:in.Len])
					outputs[0].Len = n
				}
			},
		},
	})
	agg := dflow.NewAggregator(dflow.DtypeFloat32, dflow.AggregatorOptions{
		Name:             "sink",
		NInputs:          1,
		MaxCapacityBytes: *budgetBytes,
	})

	if err := source.Connect(identity, dflow.ConnectOptions{}); err != nil {
		log.WithError(err).Fatal("connect source->identity")
	}
	if err := identity.Connect(agg.FilterNode, dflow.ConnectOptions{}); err != nil {
		log.WithError(err).Fatal("connect identity->sink")
	}

	var recEnc *json.Encoder
	if *recordPath != "" {
		recFile, err := os.OpenFile(*recordPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.WithError(err).Fatal("open record file")
		}
		defer recFile.Close()
		recEnc = json.NewEncoder(recFile)
	}

	for _, f := range []*dflow.FilterNode{agg.FilterNode, identity, source.FilterNode} {
		if err := f.Start(); err != nil {
			log.WithError(err).WithField("filter", f.Name).Fatal("start")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	timer := time.NewTimer(*duration)
	defer timer.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			sizes := agg.Sizes()
			log.WithField("sizes", sizes).Info("aggregator progress")
			if recEnc != nil && len(sizes) > 0 {
				arr := agg.Arrays()[0]
				_ = recEnc.Encode(snapshot{Filter: "sink", Input: 0, Time: time.Now(), Samples: arr.Float32[:arr.Len]})
			}
		case <-timer.C:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	log.Info("stopping pipeline")
	_ = source.Stop()
	_ = identity.Stop()
	_ = agg.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	sizes := agg.Sizes()
	fmt.Printf("final aggregated sample count: %v\n", sizes)
}

func parseWaveform(s string) (dflow.Waveform, error) {
	switch s {
	case "square":
		return dflow.WaveSquare, nil
	case "sine":
		return dflow.WaveSine, nil
	case "triangle":
		return dflow.WaveTriangle, nil
	case "sawtooth":
		return dflow.WaveSawtooth, nil
	default:
		return 0, fmt.Errorf("unknown waveform %q", s)
	}
}
