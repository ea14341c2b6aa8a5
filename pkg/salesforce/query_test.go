package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAccountByWebsiteReturnsMatch(t *testing.T) {
	mc := &mockClient{
		queryFn: func(_ context.Context, soql string, out any) error {
			assert.Contains(t, soql, "FROM Account")
			assert.Contains(t, soql, "acme.com")
			dest := out.(*[]Account)
			*dest = []Account{{ID: "001xx", Name: "Acme Corp", Website: "acme.com"}}
			return nil
		},
	}

	account, err := FindAccountByWebsite(context.Background(), mc, "acme.com")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "001xx", account.ID)
}

func TestFindAccountByWebsiteNoMatch(t *testing.T) {
	mc := &mockClient{
		queryFn: func(_ context.Context, _ string, out any) error {
			dest := out.(*[]Account)
			*dest = nil
			return nil
		},
	}

	account, err := FindAccountByWebsite(context.Background(), mc, "nowhere.example")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestFindAccountByWebsitePropagatesError(t *testing.T) {
	mc := &mockClient{
		queryFn: func(_ context.Context, _ string, _ any) error {
			return errors.New("query failed")
		},
	}

	_, err := FindAccountByWebsite(context.Background(), mc, "acme.com")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "find account by website")
}

func TestFindAccountByIDReturnsMatch(t *testing.T) {
	mc := &mockClient{
		queryFn: func(_ context.Context, soql string, out any) error {
			assert.Contains(t, soql, "Id = '001xx'")
			dest := out.(*[]Account)
			*dest = []Account{{ID: "001xx", Name: "Acme Corp"}}
			return nil
		},
	}

	account, err := FindAccountByID(context.Background(), mc, "001xx")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "Acme Corp", account.Name)
}

func TestFindAccountByIDNoMatch(t *testing.T) {
	mc := &mockClient{
		queryFn: func(_ context.Context, _ string, out any) error {
			dest := out.(*[]Account)
			*dest = nil
			return nil
		},
	}

	account, err := FindAccountByID(context.Background(), mc, "001missing")
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestEscapeSoqlEscapesQuotes(t *testing.T) {
	assert.Equal(t, `O\'Brien Inc`, escapeSoql(`O'Brien Inc`))
	assert.Equal(t, "plain", escapeSoql("plain"))
}
