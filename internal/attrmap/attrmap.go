// Package attrmap joins a lookup table onto a shapefile attribute column,
// writing the matched scores into a numeric output field.
package attrmap

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/failure"
	"github.com/sells-group/drastic-cli/internal/lookup"
	"github.com/sells-group/drastic-cli/internal/vector"
)

// Options tunes a mapping pass.
type Options struct {
	// OutputField names the numeric column to write. Defaults to "OUT".
	OutputField string
	// RequireComplete turns unmapped categories into an InputValidation
	// error instead of leaving them null.
	RequireComplete bool
}

// Summary reports the outcome of one mapping pass. Null counts features
// whose category cell is empty; they are never looked up.
type Summary struct {
	Layer          string   `json:"layer" yaml:"layer"`
	Attribute      string   `json:"attribute" yaml:"attribute"`
	OutputField    string   `json:"output_field" yaml:"output_field"`
	Features       int      `json:"features" yaml:"features"`
	Mapped         int      `json:"mapped" yaml:"mapped"`
	Unmapped       int      `json:"unmapped" yaml:"unmapped"`
	Null           int      `json:"null" yaml:"null"`
	UnmappedTokens []string `json:"unmapped_tokens,omitempty" yaml:"unmapped_tokens,omitempty"`
}

// Map loads the lookup table at lookupPath and applies it to the attr
// column of the shapefile at layerPath. See Apply.
func Map(ctx context.Context, layerPath, attr, lookupPath string, opts Options) (*Summary, error) {
	layer, err := vector.Open(layerPath)
	if err != nil {
		return nil, err
	}
	table, err := lookup.Load(ctx, lookupPath)
	if err != nil {
		return nil, err
	}
	return Apply(ctx, layer, attr, table, opts)
}

// Apply writes table[attr] into the output field of every feature of
// layer and commits the edit. Features whose category is absent from the
// table (or null) get a null output, so re-running a mapping overwrites
// values left by an earlier pass. Any failure before the commit leaves the
// shapefile untouched.
func Apply(ctx context.Context, layer *vector.Layer, attr string, table *lookup.ReclassMap, opts Options) (*Summary, error) {
	if opts.OutputField == "" {
		opts.OutputField = lookup.OutColumn
	}
	log := zap.L().With(
		zap.String("component", "attrmap"),
		zap.String("layer", layer.Path),
		zap.String("attribute", attr),
	)

	src := layer.FieldIndex(attr)
	if src < 0 {
		return nil, failure.Newf(failure.InputValidation, "attrmap: %s has no field %q", layer.Path, attr)
	}

	session, err := vector.Begin(layer)
	if err != nil {
		return nil, failure.New(failure.LayerLoad, err)
	}
	defer session.Discard()

	out, err := session.EnsureField(opts.OutputField)
	if err != nil {
		return nil, failure.New(failure.InputValidation, err)
	}
	if out == src {
		return nil, failure.Newf(failure.InputValidation,
			"attrmap: output field %q would overwrite the source field", opts.OutputField)
	}

	sum := &Summary{
		Layer:       layer.Path,
		Attribute:   attr,
		OutputField: session.Fields()[out].Name,
		Features:    len(layer.Features),
	}
	missing := make(map[string]bool)
	for i := range layer.Features {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, failure.New(failure.Cancelled, err)
			}
		}
		token, ok := layer.Value(i, src)
		if !ok {
			session.Clear(i, out)
			sum.Null++
			continue
		}
		score, ok := table.Lookup(token)
		if !ok {
			session.Clear(i, out)
			sum.Unmapped++
			missing[token] = true
			continue
		}
		if err := session.SetFloat(i, out, score); err != nil {
			return nil, failure.New(failure.InputValidation, err)
		}
		sum.Mapped++
	}
	for tok := range missing {
		sum.UnmappedTokens = append(sum.UnmappedTokens, tok)
	}
	sort.Strings(sum.UnmappedTokens)

	if opts.RequireComplete && sum.Unmapped > 0 {
		return nil, failure.Newf(failure.InputValidation,
			"attrmap: %d feature(s) of %s have categories missing from %s: %q",
			sum.Unmapped, layer.Path, table.Source, sum.UnmappedTokens)
	}

	if err := session.Commit(); err != nil {
		return nil, failure.New(failure.LayerLoad, eris.Wrap(err, "attrmap: commit"))
	}

	if sum.Unmapped > 0 {
		log.Warn("categories without a score were left null",
			zap.Int("unmapped", sum.Unmapped),
			zap.Strings("tokens", sum.UnmappedTokens),
		)
	}
	log.Info("attribute mapping committed",
		zap.Int("features", sum.Features),
		zap.Int("mapped", sum.Mapped),
	)
	return sum, nil
}
