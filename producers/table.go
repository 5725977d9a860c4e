package producers

import (
	"context"
	"math/rand"
	"time"

	"github.com/ais-netlab/chaos/xoshiro256"
)

// EventTable is the dispatch table from kind to its undo-scheduling
// bounds and runner, replacing the source's class hierarchy (§9
// "Dynamic dispatch of events"). BackgroundWeb/BackgroundVideo are
// listed for documentation; the background traffic producer dispatches
// between them internally rather than through this table, since a
// single coin flip picks the kind and shares the rest of the logic.
var EventTable = map[EventKind]EventSpec{
	BackgroundWeb:   {MinDuration: 0, MaxDuration: 0},
	BackgroundVideo: {MinDuration: 0, MaxDuration: 0},
	ElementaryLoss: {
		MinDuration: 0, MaxDuration: 0,
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			link, ok := pickLink(w, rng)
			if !ok {
				return nil
			}
			return ElementaryLossOnLink(ctx, w, link)
		},
	},
	ComplexLoss: {
		MinDuration: 20 * time.Second, MaxDuration: 50 * time.Second,
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			link, ok := pickLink(w, rng)
			if !ok {
				return nil
			}
			ComplexLossOnLink(ctx, w, rng, link)
			return nil
		},
	},
	DelaySpike: {
		MinDuration: 0, MaxDuration: 0,
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			link, ok := pickLink(w, rng)
			if !ok {
				return nil
			}
			return DelaySpikeOnLink(ctx, w, rng, link)
		},
	},
	BogusStaticRoute: {
		MinDuration: 30 * time.Second, MaxDuration: 120 * time.Second,
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			BogusStaticRouteOnce(ctx, w, rng)
			return nil
		},
	},
	OspfWeightChange: {
		MinDuration: 0, MaxDuration: 0, // irreversible
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			OspfWeightChangeOnce(ctx, w, rng)
			return nil
		},
	},
	DelayIncrease: {
		MinDuration: 0, MaxDuration: 0, // irreversible
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			DelayIncreaseOnce(ctx, w, rng)
			return nil
		},
	},
	DisconnectLink: {
		MinDuration: 5 * time.Second, MaxDuration: 30 * time.Second,
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			DisconnectLinkOnce(ctx, w, rng)
			return nil
		},
	},
	DisconnectRouter: {
		MinDuration: 60 * time.Second, MaxDuration: 300 * time.Second,
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			DisconnectRouterOnce(ctx, w, rng)
			return nil
		},
	},
	LossyLink: {
		MinDuration: 10 * time.Second, MaxDuration: 30 * time.Second,
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			LossyLinkOnce(ctx, w, rng)
			return nil
		},
	},
	BandwidthChange: {
		MinDuration: 0, MaxDuration: 0, // irreversible
		Run: func(ctx context.Context, w *World, rng *rand.Rand) error {
			BandwidthChangeOnce(ctx, w, rng)
			return nil
		},
	},
}

// chaosKinds is the population the chaos producer samples from each
// iteration; background/loss/delay kinds run under their own dedicated
// producers instead.
var chaosKinds = []EventKind{
	BogusStaticRoute, OspfWeightChange, DelayIncrease,
	DisconnectLink, DisconnectRouter, LossyLink, BandwidthChange,
}

// chaosRate derives the chaos producer's driving rate as the reciprocal
// of the mean average duration across chaosKinds, with irreversible
// kinds contributing 0 and pulling the mean down (§4.6 "Chaos producer
// driving rate").
func chaosRate() float64 {
	var total float64
	for _, k := range chaosKinds {
		spec := EventTable[k]
		avg := (spec.MinDuration + spec.MaxDuration).Seconds() / 2
		total += avg
	}
	mean := total / float64(len(chaosKinds))
	return 1 / mean
}

// NewBackgroundTrafficRunner builds the background traffic producer,
// driven by traffic_rate (§6 CLI flag --traffic_rate).
func NewBackgroundTrafficRunner(w *World, rate float64, seed uint64) *Runner {
	rng := rand.New(xoshiro256.New(seed))
	return &Runner{
		Name: "background-traffic",
		Rate: rate,
		Rng:  rng,
		Pick: func(ctx context.Context, rng *rand.Rand) { BackgroundTrafficOnce(ctx, w, rng, rate) },
	}
}

// NewLossRunner builds the loss producer, driven by loss_rate (§6 CLI
// flag --loss_rate), dispatching between ElementaryLoss and ComplexLoss
// per §4.6 Loss dispatcher.
func NewLossRunner(w *World, rate float64, seed uint64) *Runner {
	rng := rand.New(xoshiro256.New(seed))
	return &Runner{
		Name: "loss",
		Rate: rate,
		Rng:  rng,
		Pick: func(ctx context.Context, rng *rand.Rand) { LossDispatcher(ctx, w, rng) },
	}
}

// NewDelayRunner builds the delay-spike producer, driven by delay_rate
// (§6 CLI flag --delay_rate).
func NewDelayRunner(w *World, rate float64, seed uint64) *Runner {
	rng := rand.New(xoshiro256.New(seed))
	return &Runner{
		Name: "delay",
		Rate: rate,
		Rng:  rng,
		Pick: func(ctx context.Context, rng *rand.Rand) {
			link, ok := pickLink(w, rng)
			if !ok {
				return
			}
			_ = DelaySpikeOnLink(ctx, w, rng, link)
		},
	}
}

// NewChaosRunner builds the chaos producer. Its rate is derived, not a
// CLI flag, per §4.6's "Chaos producer driving rate" note.
func NewChaosRunner(w *World, seed uint64) *Runner {
	rng := rand.New(xoshiro256.New(seed))
	rate := chaosRate()
	return &Runner{
		Name: "chaos",
		Rate: rate,
		Rng:  rng,
		Pick: func(ctx context.Context, rng *rand.Rand) {
			kind := chaosKinds[rng.Intn(len(chaosKinds))]
			spec := EventTable[kind]
			_ = spec.Run(ctx, w, rng)
		},
	}
}
