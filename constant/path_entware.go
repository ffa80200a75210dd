//go:build entware

package constant

const (
	AppConfigDir = "/opt/etc/block-ips"
	LogDir       = "/opt/var/log/block-ips"
	RunDir       = "/opt/var/run"
)
