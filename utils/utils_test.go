package utils

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/test"
	goutils "go.viam.com/utils"
)

func TestSaturatingAddInt8(t *testing.T) {
	cases := []struct {
		description string
		v           int8
		delta       int
		expected    int8
	}{
		{"plain add", 10, 3, 13},
		{"plain subtract", 10, -3, 7},
		{"saturates high", 125, 3, math.MaxInt8},
		{"stays at max", math.MaxInt8, 3, math.MaxInt8},
		{"saturates low", -127, -3, math.MinInt8},
		{"stays at min", math.MinInt8, -1, math.MinInt8},
		{"huge delta", 0, 1000, math.MaxInt8},
	}
	for _, tc := range cases {
		t.Run(tc.description, func(t *testing.T) {
			test.That(t, SaturatingAddInt8(tc.v, tc.delta), test.ShouldEqual, tc.expected)
		})
	}
}

func TestAbsInt(t *testing.T) {
	test.That(t, AbsInt(-4), test.ShouldEqual, 4)
	test.That(t, AbsInt(0), test.ShouldEqual, 0)
	test.That(t, AbsInt(7), test.ShouldEqual, 7)
}

func TestStoppableWorkers(t *testing.T) {
	var ticks atomic.Int64
	workers := NewStoppableWorkers(func(ctx context.Context) {
		for goutils.SelectContextOrWait(ctx, time.Millisecond) {
			ticks.Inc()
		}
	})
	for ticks.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	workers.Stop()
	test.That(t, workers.Context().Err(), test.ShouldNotBeNil)

	stopped := ticks.Load()
	workers.Add(func(ctx context.Context) { ticks.Add(100) })
	test.That(t, ticks.Load(), test.ShouldEqual, stopped)
}

func TestStoppableWorkersSurvivePanics(t *testing.T) {
	var ran atomic.Bool
	workers := NewStoppableWorkers(
		func(ctx context.Context) { panic("worker failed") },
		func(ctx context.Context) {
			<-ctx.Done()
			ran.Store(true)
		},
	)
	workers.Stop()
	test.That(t, ran.Load(), test.ShouldBeTrue)
}
