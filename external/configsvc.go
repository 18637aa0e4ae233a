package external

import "context"

// EdgeAgentApplicationUUID is the fixed application UUID the config service
// is queried under.
const EdgeAgentApplicationUUID = "aac6f843-cfee-4683-b121-6943bfdf9173"

// ConfigService is the remote configuration source. GetConfig returns
// ok=false when no config is currently available for this node; the
// translator retries indefinitely at its poll interval in that case.
type ConfigService interface {
	GetConfig(ctx context.Context, applicationUUID, nodeUUID string) (doc []byte, ok bool, err error)
}

// SparkplugIdentity carries the group/node identifiers the Sparkplug node
// is constructed with.
type SparkplugIdentity struct {
	GroupID string
	NodeID  string
}

// Principal is the resolved identity of this edge node.
type Principal struct {
	UUID      string
	Sparkplug SparkplugIdentity
}

// IdentityService resolves this node's own identity. FindPrincipal returns
// ok=false when identity isn't yet resolvable; the translator retries
// indefinitely at its poll interval in that case.
type IdentityService interface {
	FindPrincipal(ctx context.Context) (principal Principal, ok bool, err error)
}

// LocalConfigStore persists the one field the core is allowed to rewrite in
// the local config file: a device's polling interval.
type LocalConfigStore interface {
	SetDevicePollInterval(deviceID string, ms int) error
}
