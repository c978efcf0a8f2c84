package pubchem

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrFault matches any PUG REST fault response.
	ErrFault = errors.New("pubchem fault")
	// ErrNoRecord means the response decoded but lacked the expected payload.
	ErrNoRecord = errors.New("pubchem record missing")
)

type Fault struct {
	Code    string   `json:"Code"`
	Message string   `json:"Message"`
	Details []string `json:"Details,omitempty"`
}

type FaultError struct {
	StatusCode int
	Fault      Fault
}

func (e *FaultError) Error() string {
	msg := strings.TrimSpace(e.Fault.Message)
	if msg == "" {
		msg = e.Fault.Code
	}
	if len(e.Fault.Details) > 0 {
		msg += ": " + strings.Join(e.Fault.Details, "; ")
	}
	return fmt.Sprintf("pubchem fault (HTTP %d): %s", e.StatusCode, msg)
}

func (e *FaultError) Is(target error) bool {
	return target == ErrFault
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("pubchem HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("pubchem HTTP %d: %s", e.StatusCode, e.Body)
}

type faultEnvelope struct {
	Fault *Fault `json:"Fault"`
}

type autocompleteResponse struct {
	Total           int `json:"total"`
	DictionaryTerms struct {
		Compound []string `json:"compound"`
	} `json:"dictionary_terms"`
}

type recordResponse struct {
	Fault       *Fault       `json:"Fault"`
	PCCompounds []pcCompound `json:"PC_Compounds"`
}

type pcCompound struct {
	ID struct {
		ID struct {
			CID int64 `json:"cid"`
		} `json:"id"`
	} `json:"id"`
	Atoms struct {
		AID     []int `json:"aid"`
		Element []int `json:"element"`
	} `json:"atoms"`
	Bonds struct {
		AID1  []int `json:"aid1"`
		AID2  []int `json:"aid2"`
		Order []int `json:"order"`
	} `json:"bonds"`
	Coords []struct {
		AID        []int         `json:"aid"`
		Conformers []pcConformer `json:"conformers"`
	} `json:"coords"`
}

type pcConformer struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	Z []float64 `json:"z"`
}

type descriptionResponse struct {
	Fault           *Fault `json:"Fault"`
	InformationList struct {
		Information []struct {
			CID         int64  `json:"CID"`
			Title       string `json:"Title"`
			Description string `json:"Description"`
		} `json:"Information"`
	} `json:"InformationList"`
}

type propertyResponse struct {
	Fault         *Fault `json:"Fault"`
	PropertyTable struct {
		Properties []struct {
			CID              int64     `json:"CID"`
			MolecularFormula string    `json:"MolecularFormula"`
			MolecularWeight  flexFloat `json:"MolecularWeight"`
		} `json:"Properties"`
	} `json:"PropertyTable"`
}

// flexFloat decodes a JSON number or a numeric string. PUG REST has served
// MolecularWeight both ways.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse molecular weight %q: %w", raw, err)
		}
		f.Value, f.Set = value, true
		return nil
	}
	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return err
	}
	f.Value, f.Set = value, true
	return nil
}

func faultError(status int, fault *Fault) error {
	if fault == nil {
		return nil
	}
	return &FaultError{StatusCode: status, Fault: *fault}
}

// IsNotFound reports whether err means PubChem has no data for the request,
// as opposed to the service being unreachable or overloaded.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNoRecord) {
		return true
	}
	var faultErr *FaultError
	if errors.As(err, &faultErr) {
		return faultErr.StatusCode == 404 || faultErr.StatusCode == 400 ||
			strings.EqualFold(faultErr.Fault.Code, "PUGREST.NotFound")
	}
	return false
}
