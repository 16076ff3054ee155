package store

import (
	"context"
	"fmt"

	"github.com/groundfault/groundfault/core/canonical"
	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/errs"
)

// HandleException folds Exception and HTTPException envelopes: upsert the
// type and tag dictionaries, fold the group for the fingerprint, insert the
// event row, and link everything up.
func HandleException(ctx context.Context, agg Aggregator, env *envelope.Envelope) error {
	date, err := env.Timestamp()
	if err != nil {
		return err
	}

	data := env.Data
	level := intField(data, "level", envelope.LevelError)
	className := stringField(data, "type")
	value := stringField(data, "value")
	traceback := stringField(data, "traceback")

	hash := env.Hash
	if hash == "" {
		hash = canonical.Fingerprint(level, className, traceback, value)
	}

	typeID, err := agg.GetOrCreateEventType(ctx, env.EventType)
	if err != nil {
		return err
	}

	tagIDs := make([]int64, 0, len(env.Tags))
	for _, tag := range env.Tags {
		id, err := agg.GetOrCreateTag(ctx, tag.Name, tag.Value)
		if err != nil {
			return err
		}
		tagIDs = append(tagIDs, id)
	}

	message := fmt.Sprintf("%s: %s", className, value)
	group, _, err := agg.GetOrCreateGroup(ctx, typeID, hash, message, date)
	if err != nil {
		return err
	}
	// Exactly one increment per envelope, whether or not the group is new;
	// fresh groups start at count 0.
	if err := agg.BumpGroup(ctx, group.ID, date); err != nil {
		return err
	}

	blob, err := envelope.EncodeBlob(map[string]any{
		"frames":    data["frames"],
		"versions":  data["versions"],
		"type":      className,
		"value":     value,
		"extra":     env.Extra,
		"traceback": traceback,
	})
	if err != nil {
		return err
	}

	var spent *int64
	if env.TimeSpent != nil {
		ms := int64(*env.TimeSpent)
		spent = &ms
	}

	inserted, err := agg.InsertEvent(ctx, EventRow{
		EventID:   env.EventID,
		TypeID:    typeID,
		Hash:      hash,
		Datetime:  date,
		TimeSpent: spent,
		Data:      blob,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return errs.New("store", errs.CodeConflict,
			errs.WithMessage("event id already ingested"), errs.WithEventID(env.EventID))
	}

	if err := agg.LinkGroupEvent(ctx, group.ID, env.EventID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if err := agg.LinkEventTag(ctx, env.EventID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// intField reads an integer payload field across the numeric types JSON
// decoding can produce.
func intField(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

// stringField reads a payload field as text, tolerating canonicalized
// non-string values.
func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
