package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

// record is the JSON document byte-oriented backends persist per lease
type record struct {
	Name    string    `json:"name"`
	Owner   string    `json:"owner"`
	Expiry  time.Time `json:"expiry"`
	Version uint64    `json:"version"`
}

// EncodeRecord serializes a lease for backends that store opaque bytes.
func EncodeRecord(l *types.Lease) ([]byte, error) {
	return json.Marshal(record{
		Name:    l.Name,
		Owner:   l.Owner,
		Expiry:  l.Expiry.UTC(),
		Version: l.Version,
	})
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (*types.Lease, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode lease record: %w", err)
	}
	return &types.Lease{
		Name:    r.Name,
		Owner:   r.Owner,
		Expiry:  r.Expiry,
		Version: r.Version,
	}, nil
}
