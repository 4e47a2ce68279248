package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/sim/world/grid"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

// Outcome is the result of one scenario request.
type Outcome struct {
	Index  int
	Result vacate.Result
	Err    error
	// Mismatches lists failed expectations; empty when all held.
	Mismatches []string
}

// Run builds the world and executes every request in order on one Vacater.
// The planner is seeded from the scenario so runs are reproducible.
func Run(sc *Scenario, opts vacate.Options, log logrus.FieldLogger) (*grid.World, []Outcome, error) {
	w, err := sc.Build()
	if err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts.Log = log.WithField("scenario", sc.Name)
	v := vacate.New(w, w, rand.New(rand.NewSource(sc.Seed)), opts)

	out := make([]Outcome, 0, len(sc.Requests))
	for i, req := range sc.Requests {
		if req.Settle {
			w.Settle()
		}
		res, err := v.VacateIdleOfNation(req.Footprint, req.Nation, req.Builder)
		o := Outcome{Index: i, Result: res, Err: err}
		if req.Expect != nil {
			o.Mismatches = check(*req.Expect, res, err)
		}
		out = append(out, o)
	}
	return w, out, nil
}

// ErrorCode maps vacate errors onto the short codes scenarios and the wire
// protocol use.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, vacate.ErrBadArguments):
		return "bad_arguments"
	case errors.Is(err, vacate.ErrUnknownBuilder):
		return "unknown_builder"
	case errors.Is(err, vacate.ErrScanTooLarge):
		return "scan_too_large"
	default:
		return "internal"
	}
}

func check(e Expect, res vacate.Result, err error) []string {
	var bad []string
	if got := ErrorCode(err); got != e.Error {
		bad = append(bad, fmt.Sprintf("error %q, want %q", got, e.Error))
	}
	if e.Remaining != nil && res.Remaining != *e.Remaining {
		bad = append(bad, fmt.Sprintf("remaining %d, want %d", res.Remaining, *e.Remaining))
	}
	if e.Orders != nil && len(res.Orders) != *e.Orders {
		bad = append(bad, fmt.Sprintf("orders %d, want %d", len(res.Orders), *e.Orders))
	}
	if e.Stages != nil {
		got := make([]string, 0, len(res.Stages))
		for _, s := range res.Stages {
			got = append(got, string(s.Stage))
		}
		want := make([]string, 0, len(e.Stages))
		for _, s := range e.Stages {
			want = append(want, string(s))
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			bad = append(bad, fmt.Sprintf("stages [%s], want [%s]", strings.Join(got, ","), strings.Join(want, ",")))
		}
	}
	return bad
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
