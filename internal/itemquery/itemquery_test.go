// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package itemquery

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseClassify(t *testing.T) {
	tests := []struct {
		text  string
		host  HostScope
		key   KeyScope
		class Class
	}{
		{"/web01/agent.ping", HostExact, KeyExact, ClassOne},
		{"//agent.ping", HostSelf, KeyExact, ClassOne},
		{"/*/agent.ping", HostAny, KeyExact, ClassMany},
		{"/web01/net.if.in[*,bytes]", HostExact, KeyWildcardSome, ClassMany},
		{`/web01/net.if.in["*",bytes]`, HostExact, KeyExact, ClassOne},
		{`/web01/net.if.in[[*],bytes]`, HostExact, KeyExact, ClassOne},
		{"/web01/*", HostExact, KeyAny, ClassMany},
		{`/web01/agent.ping?[group="prod"]`, HostExact, KeyExact, ClassMany},
		{"/*/*", HostAny, KeyAny, ClassMany},
		{"/web*/http_requests", HostExact, KeyExact, ClassOne},
	}
	for _, tt := range tests {
		q := Parse(tt.text)
		require.NoError(t, q.Err, tt.text)
		require.Equal(t, tt.host, q.HostScope, tt.text)
		require.Equal(t, tt.key, q.KeyScope, tt.text)
		require.Equal(t, tt.class, q.Class, tt.text)
		require.Equal(t, tt.text, q.String())
	}
	require.True(t, Parse("/*/*").HostKeyAny())
	require.False(t, Parse("/*/a").HostKeyAny())
}

func TestParseFilter(t *testing.T) {
	q := Parse(`/*/cpu[a,"]?"]?[group="a b" and tag="env:prod"]`)
	require.NoError(t, q.Err)
	require.Equal(t, `cpu[a,"]?"]`, q.Key)
	require.Equal(t, `group="a b" and tag="env:prod"`, q.Filter)
	require.True(t, q.HasFilter())
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{"", "/", "host/key", "/host", "/host/", "/host/key[a", "/host/key?group", "/host/key]x", "/host/bad key"} {
		q := Parse(text)
		require.Equal(t, ClassError, q.Class, text)
		require.EqualError(t, q.Err, "invalid item query filter", text)
	}
}

func TestResolveHost(t *testing.T) {
	q := Parse("//agent.ping")
	q.ResolveHost("web01")
	require.Equal(t, "web01", q.Host)
	require.Equal(t, HostSelf, q.HostScope)

	q = Parse("/{HOST.HOST}/agent.ping")
	q.ResolveHost("web02")
	require.Equal(t, "web02", q.Host)

	q = Parse("/db/agent.ping")
	q.ResolveHost("web02")
	require.Equal(t, "db", q.Host)
}

func TestExactIsOneProperty(t *testing.T) {
	name := rapid.StringMatching(`[a-z][a-z0-9]{0,8}`)
	rapid.Check(t, func(t *rapid.T) {
		host := name.Draw(t, "host")
		key := name.Draw(t, "key")
		require.Equal(t, ClassOne, Parse("/"+host+"/"+key).Class)
		require.Equal(t, ClassMany, Parse("/"+host+"/"+key+`?[tag="x"]`).Class)
		require.Equal(t, ClassMany, Parse("/*/"+key).Class)
		require.Equal(t, ClassMany, Parse("/"+host+"/"+key+"[*]").Class)
		require.Equal(t, ClassMany, Parse("/"+host+"/*").Class)
	})
}
