package targets

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/automation"
)

func TestPickContact(t *testing.T) {
	cases := []struct {
		name      string
		phone     string
		email     string
		preferred automation.Channel
		want      automation.Contact
	}{
		{"sms by default", "+5511", "a@b.c", "", automation.Contact{Address: "+5511", Channel: automation.ChannelSMS}},
		{"whatsapp preferred", "+5511", "", automation.ChannelWhatsApp, automation.Contact{Address: "+5511", Channel: automation.ChannelWhatsApp}},
		{"email preferred", "+5511", "a@b.c", automation.ChannelEmail, automation.Contact{Address: "a@b.c", Channel: automation.ChannelEmail}},
		{"email preferred without email", " +5511 ", "", automation.ChannelEmail, automation.Contact{Address: "+5511", Channel: automation.ChannelSMS}},
		{"email only", "", "a@b.c", automation.ChannelSMS, automation.Contact{Address: "a@b.c", Channel: automation.ChannelEmail}},
		{"nothing", " ", "", automation.ChannelSMS, automation.Contact{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PickContact(tc.phone, tc.email, tc.preferred))
		})
	}
}

func TestPostgresResolver_ResolvesPatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM patients").
		WithArgs("org-1", "patient-1").
		WillReturnRows(pgxmock.NewRows([]string{"name", "phone", "email", "preferred_channel"}).
			AddRow("Ana Souza", "+5511999990000", "", "whatsapp"))

	profile, err := NewPostgresResolver(mock).ResolveTarget(context.Background(), "org-1", automation.TargetPatient, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", profile.DisplayName)
	assert.Equal(t, automation.ChannelWhatsApp, profile.Contact.Channel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolver_MissingLeadIsTargetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM leads").
		WithArgs("org-1", "lead-9").
		WillReturnRows(pgxmock.NewRows([]string{"name", "phone", "email", "preferred_channel"}))

	_, err = NewPostgresResolver(mock).ResolveTarget(context.Background(), "org-1", automation.TargetLead, "lead-9")
	assert.ErrorIs(t, err, automation.ErrTargetNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolver_OrganizationName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM organizations").
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Clínica Bella "))

	name, err := NewPostgresResolver(mock).OrganizationName(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "Clínica Bella", name)
}

type countingResolver struct {
	*MemoryDirectory
	targetCalls int
	orgCalls    int
}

func (c *countingResolver) ResolveTarget(ctx context.Context, orgID string, kind automation.TargetKind, id string) (*automation.TargetProfile, error) {
	c.targetCalls++
	return c.MemoryDirectory.ResolveTarget(ctx, orgID, kind, id)
}

func (c *countingResolver) OrganizationName(ctx context.Context, orgID string) (string, error) {
	c.orgCalls++
	return c.MemoryDirectory.OrganizationName(ctx, orgID)
}

func newCountingResolver() *countingResolver {
	dir := NewMemoryDirectory()
	dir.Put("org-1", automation.TargetProfile{
		ID: "patient-1", Kind: automation.TargetPatient, DisplayName: "Ana",
		Contact: automation.Contact{Address: "+5511999990000", Channel: automation.ChannelSMS},
	})
	dir.SetOrganizationName("org-1", "Clínica Bella")
	return &countingResolver{MemoryDirectory: dir}
}

func TestCachedResolver_CachesHitsAndNotMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := newCountingResolver()
	cache := NewCachedResolver(next, client, time.Minute, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		profile, err := cache.ResolveTarget(ctx, "org-1", automation.TargetPatient, "patient-1")
		require.NoError(t, err)
		assert.Equal(t, "Ana", profile.DisplayName)
	}
	assert.Equal(t, 1, next.targetCalls)

	for i := 0; i < 2; i++ {
		_, err := cache.ResolveTarget(ctx, "org-1", automation.TargetPatient, "ghost")
		assert.True(t, errors.Is(err, automation.ErrTargetNotFound))
	}
	assert.Equal(t, 3, next.targetCalls)

	for i := 0; i < 2; i++ {
		name, err := cache.OrganizationName(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "Clínica Bella", name)
	}
	assert.Equal(t, 1, next.orgCalls)

	mr.FastForward(2 * time.Minute)
	_, err := cache.ResolveTarget(ctx, "org-1", automation.TargetPatient, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, 4, next.targetCalls)
}

func TestCachedResolver_InvalidateSeesDeletion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := newCountingResolver()
	cache := NewCachedResolver(next, client, time.Minute, time.Hour, nil)
	ctx := context.Background()

	_, err := cache.ResolveTarget(ctx, "org-1", automation.TargetPatient, "patient-1")
	require.NoError(t, err)

	next.Remove("org-1", automation.TargetPatient, "patient-1")
	require.NoError(t, cache.Invalidate(ctx, "org-1", automation.TargetPatient, "patient-1"))

	_, err = cache.ResolveTarget(ctx, "org-1", automation.TargetPatient, "patient-1")
	assert.ErrorIs(t, err, automation.ErrTargetNotFound)
}

func TestCachedResolver_RedisDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()
	next := newCountingResolver()
	cache := NewCachedResolver(next, client, time.Minute, time.Hour, nil)

	profile, err := cache.ResolveTarget(context.Background(), "org-1", automation.TargetPatient, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", profile.DisplayName)
}

func TestCachedResolver_NilClientPassesThrough(t *testing.T) {
	next := newCountingResolver()
	cache := NewCachedResolver(next, nil, 0, 0, nil)

	_, err := cache.ResolveTarget(context.Background(), "org-1", automation.TargetPatient, "patient-1")
	require.NoError(t, err)
	_, err = cache.ResolveTarget(context.Background(), "org-1", automation.TargetPatient, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.targetCalls)
	assert.NoError(t, cache.Invalidate(context.Background(), "org-1", automation.TargetPatient, "patient-1"))
}
