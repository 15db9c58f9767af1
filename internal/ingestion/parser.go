package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/ledger"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
)

// ErrParse marks malformed input. Transports map it to a client error.
var ErrParse = errors.New("parse error")

// Subject prefixes for inbound JetStream messages.
const (
	CommandSubjectPrefix = "perp.vault.commands."
	PriceSubjectPrefix   = "perp.vault.prices."
)

// priceNamespace derives stable command ids for price messages that do
// not carry one, so a redelivered price is deduplicated.
var priceNamespace = uuid.MustParse("6f1c2b1e-4d0a-4f7e-9d6b-2f9a3c8e5b10")

// --- JSON wire formats ---
// Command bodies are flat: the header fields sit next to the payload
// fields in one snake_case object.

type headerJSON struct {
	CommandID   string `json:"command_id"`
	Caller      string `json:"caller"`
	TimestampUs int64  `json:"timestamp_us"`
}

type priceJSON struct {
	CommandID     string `json:"command_id"`
	Asset         string `json:"asset"`
	Price         int64  `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

// ParseCommand converts a command body into a typed command.
func ParseCommand(kind core.Kind, data []byte) (*core.Command, error) {
	var h headerJSON
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", ErrParse, kind, err)
	}

	id, err := parseID("command_id", h.CommandID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", h.Caller)
	if err != nil {
		return nil, err
	}
	if h.TimestampUs <= 0 {
		return nil, fmt.Errorf("%w: timestamp_us must be positive", ErrParse)
	}

	payload, err := core.DecodePayload(kind, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return &core.Command{
		ID:        id,
		Caller:    caller,
		Timestamp: time.UnixMicro(h.TimestampUs).UTC(),
		Payload:   payload,
	}, nil
}

// ParsePrice converts an oracle price message into a set_price command
// issued by oracle. The asset comes from the body or, if absent, from the
// subject suffix.
func ParsePrice(subjectAsset string, oracle uuid.UUID, data []byte) (*core.Command, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrParse, err)
	}
	if j.Asset == "" {
		j.Asset = subjectAsset
	}
	asset := ledger.AssetID(j.Asset)
	if err := asset.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if j.TimestampUs <= 0 {
		return nil, fmt.Errorf("%w: timestamp_us must be positive", ErrParse)
	}

	var id uuid.UUID
	if j.CommandID == "" {
		id = uuid.NewSHA1(priceNamespace, fmt.Appendf(nil, "%s:%d", j.Asset, j.PriceSequence))
	} else {
		var err error
		if id, err = parseID("command_id", j.CommandID); err != nil {
			return nil, err
		}
	}

	return &core.Command{
		ID:        id,
		Caller:    oracle,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
		Payload:   core.SetPrice{Asset: asset, Price: j.Price, PriceSequence: j.PriceSequence},
	}, nil
}

// ParseSubjectCommand parses a message from the command stream. Prices and
// custody inflows have their own entry points and are refused here.
func ParseSubjectCommand(subject string, data []byte) (*core.Command, error) {
	kind, err := KindFromSubject(subject)
	if err != nil {
		return nil, err
	}
	if kind.Access() == core.AccessInternal {
		return nil, fmt.Errorf("%w: %s is not accepted on the command stream", vault.ErrPermissionDenied, kind)
	}
	return ParseCommand(kind, data)
}

// KindFromSubject extracts the command kind from a command subject.
func KindFromSubject(subject string) (core.Kind, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: subject %q is not a command subject", ErrParse, subject)
	}
	kind, _, _ := strings.Cut(rest, ".")
	if _, err := core.NewPayload(core.Kind(kind)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	return core.Kind(kind), nil
}

// AssetFromSubject extracts the asset suffix of a price subject, if any.
func AssetFromSubject(subject string) string {
	rest, _ := strings.CutPrefix(subject, PriceSubjectPrefix)
	asset, _, _ := strings.Cut(rest, ".")
	return asset
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %v", ErrParse, field, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %s must not be nil", ErrParse, field)
	}
	return id, nil
}
