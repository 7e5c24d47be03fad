// Package blueprint loads viewer layout records from a stored record stream.
//
// A blueprint file holds any number of layout records plus exactly one
// activation record that tells viewers to switch to the layout.
package blueprint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/encoding"
	"github.com/brainlesscar/rerelay/telemetry"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when the blueprint file does not exist
	ErrNotFound = errors.New("blueprint file not found")
	// ErrMissingActivation is returned when no activation record was found
	ErrMissingActivation = errors.New("blueprint has no activation record")
	// ErrMultipleActivations is returned when more than one activation record was found
	ErrMultipleActivations = errors.New("blueprint has more than one activation record")
)

// Blueprint is a loaded viewer layout
type Blueprint struct {
	Messages   []common.Msg // Layout records in file order
	Activation common.Msg   // The single activation record
	Skipped    int          // Malformed records skipped while loading
}

// Load reads the blueprint stored at path
func Load(path string) (Blueprint, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Blueprint{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return Blueprint{}, fmt.Errorf("failed to open blueprint: %w", err)
	}
	defer f.Close()

	bp, err := Read(f)
	if err != nil {
		return Blueprint{}, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("messages", len(bp.Messages)).
		Int("skipped", bp.Skipped).
		Msg("Blueprint loaded")
	return bp, nil
}

// Read decodes a blueprint from a record stream.
// Malformed records are skipped with a warning; a stream cut off in the
// middle of a record keeps everything read before the cut.
func Read(r io.Reader) (Blueprint, error) {
	dec, err := encoding.NewDecoder(r)
	if err != nil {
		return Blueprint{}, err
	}

	var (
		bp          Blueprint
		activations int
	)
	for body, err := range dec.All() {
		if err != nil {
			if encoding.IsDecodeError(err) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warn().Err(err).Msg("Skipping malformed blueprint record")
				bp.Skipped++
				continue
			}
			return Blueprint{}, fmt.Errorf("failed to read blueprint: %w", err)
		}

		msg, err := encoding.UnmarshalMsg(body)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable blueprint record")
			bp.Skipped++
			continue
		}

		if msg.IsActivation() {
			activations++
			bp.Activation = msg
			continue
		}
		bp.Messages = append(bp.Messages, msg)
	}

	telemetry.BlueprintRecordsSkippedTotal.Add(float64(bp.Skipped))

	switch {
	case activations == 0:
		return Blueprint{}, ErrMissingActivation
	case activations > 1:
		return Blueprint{}, fmt.Errorf("%w: found %d", ErrMultipleActivations, activations)
	}
	return bp, nil
}

// Write stores msgs followed by the activation record as a record stream
func Write(w io.Writer, msgs []common.Msg, activation common.Msg, opts encoding.EncoderOptions) error {
	if !activation.IsActivation() {
		return fmt.Errorf("activation record has kind %s", activation.Kind)
	}

	enc, err := encoding.NewEncoder(w, opts)
	if err != nil {
		return err
	}
	for i, msg := range msgs {
		if msg.IsActivation() {
			return fmt.Errorf("record %d: %w", i, ErrMultipleActivations)
		}
		if err := enc.WriteMsg(msg); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return enc.WriteMsg(activation)
}

// Save writes a blueprint file at path, replacing any existing file
func Save(path string, msgs []common.Msg, activation common.Msg, opts encoding.EncoderOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create blueprint: %w", err)
	}
	if err := Write(f, msgs, activation, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
