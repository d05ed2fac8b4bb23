package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	errMalformedEnvelope = errors.New("malformed envelope")
	errUnknownAction     = errors.New("unknown action")
)

var pathEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`, `!`, `\!`, `=`, `\=`, `<`, `\<`, `>`, `\>`, `%`, `\%`,
)

func escapeKey(k string) string {
	return pathEscaper.Replace(k)
}

// mergeFields copies the top-level fields of patch over doc.
func mergeFields(doc, patch []byte) ([]byte, error) {
	p := gjson.ParseBytes(patch)
	if !p.IsObject() {
		return nil, fmt.Errorf("patch must be a JSON object")
	}
	out := append([]byte(nil), doc...)
	var err error
	p.ForEach(func(key, value gjson.Result) bool {
		out, err = sjson.SetRawBytes(out, escapeKey(key.String()), []byte(value.Raw))
		return err == nil
	})
	return out, err
}

// patchEntity returns entity with fields merged in and stamp values set.
func patchEntity[T any](entity T, fields any, stamp map[string]string) (T, error) {
	var zero T
	doc, err := json.Marshal(entity)
	if err != nil {
		return zero, fmt.Errorf("encode entity: %w", err)
	}
	return buildFrom[T](doc, fields, stamp)
}

// buildEntity creates a T from fields plus stamp values.
func buildEntity[T any](fields any, stamp map[string]string) (T, error) {
	return buildFrom[T]([]byte("{}"), fields, stamp)
}

func buildFrom[T any](doc []byte, fields any, stamp map[string]string) (T, error) {
	var zero T
	if fields != nil {
		patch, err := json.Marshal(fields)
		if err != nil {
			return zero, fmt.Errorf("encode fields: %w", err)
		}
		if doc, err = mergeFields(doc, patch); err != nil {
			return zero, err
		}
	}
	for k, v := range stamp {
		var err error
		if doc, err = sjson.SetBytes(doc, escapeKey(k), v); err != nil {
			return zero, err
		}
	}
	var out T
	if err := json.Unmarshal(doc, &out); err != nil {
		return zero, fmt.Errorf("decode entity: %w", err)
	}
	return out, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// envelopeTarget reads the routing fields without decoding the payload.
func envelopeTarget(body []byte) (entity, id string, err error) {
	if !gjson.ValidBytes(body) {
		return "", "", errMalformedEnvelope
	}
	res := gjson.GetManyBytes(body, "event.entity", "event.id")
	if !res[0].Exists() {
		return "", "", fmt.Errorf("%w: missing event.entity", errMalformedEnvelope)
	}
	return res[0].String(), res[1].String(), nil
}

// DecodeEvent parses an envelope body. Numeric ids are read as strings.
func DecodeEvent(body []byte) (*types.ChangeEvent, error) {
	if _, _, err := envelopeTarget(body); err != nil {
		return nil, err
	}
	ev := gjson.GetBytes(body, "event")
	action := types.Action(ev.Get("action").String()).Normalize()
	if action == "" {
		return nil, fmt.Errorf("%w: %q", errUnknownAction, ev.Get("action").String())
	}
	out := &types.ChangeEvent{
		Action: action,
		Entity: ev.Get("entity").String(),
		ID:     ev.Get("id").String(),
		Actor:  ev.Get("actor").String(),
		TS:     ev.Get("ts").Int(),
	}
	if data := ev.Get("data"); data.Exists() {
		out.Data = json.RawMessage(data.Raw)
	}
	return out, nil
}

// decodeData decodes the event payload, or returns nil when there is none.
func decodeData[T any](ev *types.ChangeEvent) (*T, error) {
	if !ev.HasData() {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", ev.Entity, err)
	}
	return &v, nil
}
