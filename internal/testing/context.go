package testing

import (
	"context"
	"net/http"
)

type teamKey struct{}

func withTeam(ctx context.Context, t *FakeTeam) context.Context {
	return context.WithValue(ctx, teamKey{}, t)
}

func teamFrom(r *http.Request) *FakeTeam {
	t, _ := r.Context().Value(teamKey{}).(*FakeTeam)
	return t
}
