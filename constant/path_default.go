//go:build !entware

package constant

const (
	AppConfigDir = "/etc/block-ips"
	LogDir       = "/var/log/block-ips"
	RunDir       = "/var/run"
)
