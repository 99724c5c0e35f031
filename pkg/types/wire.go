package types

import (
	"fmt"
	"strconv"
	"time"
)

const (
	Kind             = "Lock"
	APIVersion       = "metaparticle.io/v1"
	DefaultNamespace = "default"

	// header carrying the requester identity
	OwnerHeader = "X-Lock-Owner"

	// ISO-8601 with milliseconds, the format lock servers have always written
	ExpiryLayout = "2006-01-02T15:04:05.000Z07:00"
)

// wire representation of a lease, shaped like a custom resource
type Object struct {
	Kind       string     `json:"kind"`
	APIVersion string     `json:"apiVersion"`
	Metadata   ObjectMeta `json:"metadata"`
	Spec       ObjectSpec `json:"spec"`
}

type ObjectMeta struct {
	Name            string `json:"name"`
	Namespace       string `json:"namespace,omitempty"`
	ResourceVersion string `json:"resourceVersion,omitempty"`
}

type ObjectSpec struct {
	Owner  string `json:"owner"`
	Expiry string `json:"expiry"`
}

// error body for non-lease responses
type Message struct {
	Message string `json:"message"`
}

func ToObject(l *Lease) *Object {
	obj := &Object{
		Kind:       Kind,
		APIVersion: APIVersion,
		Metadata: ObjectMeta{
			Name:      l.Name,
			Namespace: DefaultNamespace,
		},
		Spec: ObjectSpec{
			Owner: l.Owner,
		},
	}
	if l.Version != 0 {
		obj.Metadata.ResourceVersion = strconv.FormatUint(l.Version, 10)
	}
	if !l.Expiry.IsZero() {
		obj.Spec.Expiry = l.Expiry.UTC().Format(ExpiryLayout)
	}
	return obj
}

// converts a wire object back into a lease
// empty resourceVersion and expiry decode to their zero values
func (o *Object) Lease() (*Lease, error) {
	l := &Lease{
		Name:  o.Metadata.Name,
		Owner: o.Spec.Owner,
	}

	if o.Metadata.ResourceVersion != "" {
		v, err := strconv.ParseUint(o.Metadata.ResourceVersion, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: resourceVersion %q", ErrMalformed, o.Metadata.ResourceVersion)
		}
		l.Version = v
	}

	if o.Spec.Expiry != "" {
		t, err := time.Parse(time.RFC3339, o.Spec.Expiry)
		if err != nil {
			return nil, fmt.Errorf("%w: expiry %q", ErrMalformed, o.Spec.Expiry)
		}
		l.Expiry = t
	}

	return l, nil
}
