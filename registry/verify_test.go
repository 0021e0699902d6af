package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifyRegistry(t *testing.T, status VerificationStatus, lk *fakeLookuper) (*Registry, *fakeStore) {
	t.Helper()

	st := newFakeStore()
	r := New(testConfig(), st, lk)

	require.NoError(t, r.Add(context.Background(), "example.com", "1.2.3.4", false))

	r.mu.Lock()
	r.domains["example.com"].Status = status
	r.mu.Unlock()

	st.upserts = nil

	return r, st
}

func Test_VerifySuccess(t *testing.T) {
	lk := &fakeLookuper{ns: map[string][]string{
		"example.com": {"ns1.cybertemp.xyz.", "ns2.cybertemp.xyz."},
	}}

	for _, status := range []VerificationStatus{StatusVerified, StatusPending, StatusGrace, StatusFailed} {
		r, st := newVerifyRegistry(t, status, lk)

		ok := r.VerifyDomain(context.Background(), "example.com")
		assert.True(t, ok)

		rec, found := r.Get("example.com")
		require.True(t, found)
		assert.Equal(t, StatusVerified, rec.Status)
		assert.Nil(t, rec.GraceEnds)
		assert.NotNil(t, rec.LastVerified)
		assert.Equal(t, []string{"ns1.cybertemp.xyz.", "ns2.cybertemp.xyz."}, rec.Nameservers)

		assert.Equal(t, []string{"example.com"}, st.verifies)
		assert.Empty(t, st.disables)
	}
}

func Test_VerifyWrongNameservers(t *testing.T) {
	lk := &fakeLookuper{ns: map[string][]string{
		"example.com": {"ns1.other.net.", "ns2.other.net."},
	}}

	cases := []struct {
		from VerificationStatus
		want VerificationStatus
	}{
		{StatusVerified, StatusGrace},
		{StatusPending, StatusPending},
		{StatusFailed, StatusFailed},
	}

	for _, tc := range cases {
		r, st := newVerifyRegistry(t, tc.from, lk)

		ok := r.VerifyDomain(context.Background(), "example.com")
		assert.False(t, ok)

		rec, found := r.Get("example.com")
		require.True(t, found)
		assert.Equal(t, tc.want, rec.Status)

		if tc.want == StatusGrace {
			assert.NotNil(t, rec.GraceEnds)
		} else {
			assert.Nil(t, rec.GraceEnds)
		}

		assert.Empty(t, st.verifies)
		assert.Empty(t, st.disables)
	}
}

func Test_VerifyLookupError(t *testing.T) {
	lk := &fakeLookuper{err: errors.New("timeout")}

	cases := []struct {
		from VerificationStatus
		want VerificationStatus
	}{
		{StatusVerified, StatusPending},
		{StatusPending, StatusFailed},
		{StatusGrace, StatusFailed},
		{StatusFailed, StatusFailed},
	}

	for _, tc := range cases {
		r, st := newVerifyRegistry(t, tc.from, lk)

		ok := r.VerifyDomain(context.Background(), "example.com")
		assert.False(t, ok)

		rec, found := r.Get("example.com")
		require.True(t, found)
		assert.Equal(t, tc.want, rec.Status)
		assert.Nil(t, rec.GraceEnds)

		assert.Empty(t, st.verifies)
		assert.Empty(t, st.disables)
	}
}

func Test_VerifyGraceExpiry(t *testing.T) {
	lk := &fakeLookuper{ns: map[string][]string{
		"example.com": {"ns1.other.net."},
	}}

	r, st := newVerifyRegistry(t, StatusVerified, lk)

	base := time.Now()
	r.now = func() time.Time { return base }

	// first failed probe opens the grace window
	assert.False(t, r.VerifyDomain(context.Background(), "example.com"))

	rec, found := r.Get("example.com")
	require.True(t, found)
	assert.Equal(t, StatusGrace, rec.Status)
	require.NotNil(t, rec.GraceEnds)
	assert.Equal(t, base.Add(r.gracePeriod), *rec.GraceEnds)

	// still inside the window, the domain stays served
	r.now = func() time.Time { return base.Add(time.Hour) }
	assert.False(t, r.VerifyDomain(context.Background(), "example.com"))

	rec, found = r.Get("example.com")
	require.True(t, found)
	assert.Equal(t, StatusGrace, rec.Status)
	assert.Empty(t, st.disables)

	// past the window, the domain is removed and disabled in the store
	r.now = func() time.Time { return base.Add(r.gracePeriod + time.Minute) }
	assert.False(t, r.VerifyDomain(context.Background(), "example.com"))

	_, found = r.Get("example.com")
	assert.False(t, found)
	assert.Equal(t, []string{"example.com"}, st.disables)
}

func Test_VerifyUnknownDomain(t *testing.T) {
	r := New(testConfig(), newFakeStore(), &fakeLookuper{})

	assert.False(t, r.VerifyDomain(context.Background(), "unknown.com"))
}

func Test_VerifyAll(t *testing.T) {
	lk := &fakeLookuper{ns: map[string][]string{
		"a.com": {"ns1.cybertemp.xyz."},
		"b.com": {"ns1.other.net."},
	}}

	st := newFakeStore()
	r := New(testConfig(), st, lk)

	require.NoError(t, r.Add(context.Background(), "a.com", "1.2.3.4", false))
	require.NoError(t, r.Add(context.Background(), "b.com", "1.2.3.4", false))

	r.VerifyAll(context.Background())

	rec, _ := r.Get("a.com")
	assert.Equal(t, StatusVerified, rec.Status)

	rec, _ = r.Get("b.com")
	assert.Equal(t, StatusPending, rec.Status)
}

func Test_Discover(t *testing.T) {
	cfg := testConfig()
	lk := &fakeLookuper{ns: map[string][]string{
		"new.com":           {"ns1.cybertemp.xyz."},
		"guild.discord.com": {"ns2.cybertemp.xyz."},
		"other.com":         {"ns1.other.net."},
	}}

	st := newFakeStore()
	r := New(cfg, st, lk)

	require.NoError(t, r.Discover(context.Background(), "new.com"))
	rec, ok := r.Get("new.com")
	require.True(t, ok)
	assert.Equal(t, StatusVerified, rec.Status)
	assert.Equal(t, cfg.DefaultMailIP(), rec.IP)
	assert.False(t, rec.Discord)

	require.NoError(t, r.Discover(context.Background(), "guild.discord.com"))
	rec, ok = r.Get("guild.discord.com")
	require.True(t, ok)
	assert.True(t, rec.Discord)
	assert.Equal(t, cfg.DiscordMailIP(), rec.IP)

	// wrong delegation is not registered
	require.NoError(t, r.Discover(context.Background(), "other.com"))
	_, ok = r.Get("other.com")
	assert.False(t, ok)

	// lookup errors are swallowed
	r.lookup = &fakeLookuper{err: errors.New("timeout")}
	require.NoError(t, r.Discover(context.Background(), "broken.com"))
	_, ok = r.Get("broken.com")
	assert.False(t, ok)

	// known domains are skipped
	upserts := len(st.upserts)
	require.NoError(t, r.Discover(context.Background(), "new.com"))
	assert.Equal(t, upserts, len(st.upserts))
}
