package main

import (
	"testing"

	"github.com/kristianrpo/connectivity-microservice/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestApplyFlags(t *testing.T) {
	p := config.Pipelines{
		Registration: config.Pipeline{Queue: "auth.user.registered", RoutingKey: "auth.user.registered"},
		Document:     config.Pipeline{Queue: "document.authentication.requested", RoutingKey: "document.authentication.requested"},
	}

	require.NoError(t, applyFlags(&p, pipelineAll, ""))
	require.Equal(t, "auth.user.registered", p.Registration.Queue)

	require.NoError(t, applyFlags(&p, pipelineRegistration, "auth.user.registered.v2"))
	require.Equal(t, "auth.user.registered.v2", p.Registration.RoutingKey)
	require.Equal(t, "auth.user.registered.v2", p.Registration.Queue)
	require.Equal(t, "document.authentication.requested", p.Document.RoutingKey)

	require.Error(t, applyFlags(&p, pipelineAll, "x"))
	require.Error(t, applyFlags(&p, "payments", ""))
}
