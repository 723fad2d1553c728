package requirement

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is the kind specific body of a gameplay event.
type Payload interface {
	Kind() Kind
	isPayload()
}

type DroppedItem struct {
	ItemID   int    `json:"itemId"`
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

type ItemDropPayload struct {
	Items []DroppedItem `json:"items"`
}

type PetPayload struct {
	PetName string `json:"petName"`
}

type ValueDropPayload struct {
	GPValue  int64  `json:"gpValue"`
	ItemName string `json:"itemName,omitempty"`
}

type SpeedrunPayload struct {
	Location    string  `json:"location"`
	TimeSeconds float64 `json:"timeSeconds"`
}

type ExperiencePayload struct {
	Skill    string `json:"skill"`
	GainedXP int64  `json:"gainedXp"`
}

type BAGamblesPayload struct {
	GambleCount int `json:"gambleCount"`
}

func (ItemDropPayload) Kind() Kind   { return KindItemDrop }
func (PetPayload) Kind() Kind        { return KindPet }
func (ValueDropPayload) Kind() Kind  { return KindValueDrop }
func (SpeedrunPayload) Kind() Kind   { return KindSpeedrun }
func (ExperiencePayload) Kind() Kind { return KindExperience }
func (BAGamblesPayload) Kind() Kind  { return KindBAGambles }

func (ItemDropPayload) isPayload()   {}
func (PetPayload) isPayload()        {}
func (ValueDropPayload) isPayload()  {}
func (SpeedrunPayload) isPayload()   {}
func (ExperiencePayload) isPayload() {}
func (BAGamblesPayload) isPayload()  {}

// Event is one observation folded into tile progress.
type Event struct {
	AccountID int64
	Payload   Payload
}

// ErrMalformedPayload marks payloads that fail decoding or validation.
var ErrMalformedPayload = errors.New("malformed payload")

// DecodePayload parses raw JSON for the given event kind and validates it.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindItemDrop:
		var v ItemDropPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPet:
		var v PetPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindValueDrop:
		var v ValueDropPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindSpeedrun:
		var v SpeedrunPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindExperience:
		var v ExperiencePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindBAGambles:
		var v BAGamblesPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: kind %q does not accept events", ErrMalformedPayload, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := ValidatePayload(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidatePayload rejects payloads that cannot make sense for their kind.
func ValidatePayload(p Payload) error {
	bad := func(msg string) error { return fmt.Errorf("%w: %s", ErrMalformedPayload, msg) }
	switch v := p.(type) {
	case ItemDropPayload:
		if len(v.Items) == 0 {
			return bad("no items")
		}
		for _, it := range v.Items {
			if it.ItemID <= 0 {
				return bad("item without itemId")
			}
			if it.Quantity <= 0 {
				return bad(fmt.Sprintf("item %d has non-positive quantity", it.ItemID))
			}
		}
	case PetPayload:
		if strings.TrimSpace(v.PetName) == "" {
			return bad("petName required")
		}
	case ValueDropPayload:
		if v.GPValue < 0 {
			return bad("negative gpValue")
		}
	case SpeedrunPayload:
		if strings.TrimSpace(v.Location) == "" {
			return bad("location required")
		}
		if v.TimeSeconds <= 0 {
			return bad("timeSeconds must be positive")
		}
	case ExperiencePayload:
		if strings.TrimSpace(v.Skill) == "" {
			return bad("skill required")
		}
	case BAGamblesPayload:
		if v.GambleCount < 0 {
			return bad("negative gambleCount")
		}
	case nil:
		return bad("missing payload")
	}
	return nil
}
