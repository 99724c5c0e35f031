package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseRemaining(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := &Lease{Name: "x", Owner: "a", Expiry: now.Add(10 * time.Second)}

	assert.Equal(t, 10*time.Second, l.Remaining(now))
	assert.False(t, l.IsExpired(now))

	//exactly at expiry is not yet expired
	assert.False(t, l.IsExpired(now.Add(10*time.Second)))
	assert.True(t, l.IsExpired(now.Add(10*time.Second+time.Millisecond)))
}

func TestCloneIsIndependent(t *testing.T) {
	l := &Lease{Name: "x", Owner: "a", Version: 3}
	c := l.Clone()
	c.Owner = "b"

	assert.Equal(t, "a", l.Owner)
	assert.Nil(t, (*Lease)(nil).Clone())
}

func TestToObject(t *testing.T) {
	expiry := time.Date(2024, 3, 5, 8, 9, 10, 123_000_000, time.UTC)
	obj := ToObject(&Lease{Name: "x", Owner: "host-a", Expiry: expiry, Version: 7})

	assert.Equal(t, "Lock", obj.Kind)
	assert.Equal(t, "metaparticle.io/v1", obj.APIVersion)
	assert.Equal(t, "x", obj.Metadata.Name)
	assert.Equal(t, "default", obj.Metadata.Namespace)
	assert.Equal(t, "7", obj.Metadata.ResourceVersion)
	assert.Equal(t, "host-a", obj.Spec.Owner)
	assert.Equal(t, "2024-03-05T08:09:10.123Z", obj.Spec.Expiry)

	back, err := obj.Lease()
	require.NoError(t, err)
	assert.True(t, expiry.Equal(back.Expiry))
	assert.Equal(t, uint64(7), back.Version)
}

func TestObjectLeaseRejectsGarbage(t *testing.T) {
	_, err := (&Object{Metadata: ObjectMeta{Name: "x", ResourceVersion: "seven"}}).Lease()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = (&Object{Metadata: ObjectMeta{Name: "x"}, Spec: ObjectSpec{Expiry: "tomorrow"}}).Lease()
	assert.ErrorIs(t, err, ErrMalformed)

	//offsets other than Z are accepted
	l, err := (&Object{Spec: ObjectSpec{Expiry: "2024-03-05T10:09:10.000+02:00"}}).Lease()
	require.NoError(t, err)
	assert.True(t, l.Expiry.Equal(time.Date(2024, 3, 5, 8, 9, 10, 0, time.UTC)))
}

func TestErrLeaseHeldIsConflict(t *testing.T) {
	assert.ErrorIs(t, ErrLeaseHeld, ErrConflict)
	assert.NotErrorIs(t, ErrConflict, ErrLeaseHeld)
}

func TestCommandEncoding(t *testing.T) {
	expiry := time.Date(2024, 3, 5, 8, 9, 10, 987654321, time.UTC)
	lease := &Lease{Name: "x", Owner: "a", Expiry: expiry, Version: 1<<60 + 1}

	for _, cmd := range []Command{CreateLeaseCommand{Lease: lease}, UpdateLeaseCommand{Lease: lease}} {
		data, err := EncodeCommand(cmd)
		require.NoError(t, err)

		decoded, err := DecodeCommand(data)
		require.NoError(t, err)
		assert.Equal(t, cmd.Type(), decoded.Type())

		got := decoded.Target()
		assert.Equal(t, lease.Name, got.Name)
		assert.Equal(t, lease.Owner, got.Owner)
		assert.Equal(t, lease.Version, got.Version, "version must survive without float rounding")
		assert.True(t, expiry.Equal(got.Expiry))
	}
}

func TestDecodeCommandRejectsGarbage(t *testing.T) {
	_, err := DecodeCommand([]byte{0xff, 0x01, 0x02})
	assert.Error(t, err)

	_, err = EncodeCommand(CreateLeaseCommand{})
	assert.Error(t, err)
}
