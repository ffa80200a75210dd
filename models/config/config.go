package config

type Config struct {
	ConfigVersion string  `yaml:"configVersion"`
	App           *App    `yaml:"app"`
	Exclusions    *[]Rule `yaml:"exclusions"`
}

type App struct {
	Blocklist *Blocklist `yaml:"blocklist"`
	Sources   *Sources   `yaml:"sources"`
	Resolver  *Resolver  `yaml:"resolver"`
	Services  *Services  `yaml:"services"`
	Control   *Control   `yaml:"control"`
	LogDir    *string    `yaml:"logDir"`
	LogLevel  *string    `yaml:"logLevel"`
}

type Blocklist struct {
	SetName    *string `yaml:"setName"`
	Capacity   *uint32 `yaml:"capacity"`
	Chain      *string `yaml:"chain"`
	Target     *string `yaml:"target"`
	Backend    *string `yaml:"backend"`
	EnableIPv6 *bool   `yaml:"enableIPv6"`
}

type Sources struct {
	IPListURL     *string `yaml:"ipListURL"`
	DomainListURL *string `yaml:"domainListURL"`
	FetchTimeout  *string `yaml:"fetchTimeout"`
}

type Resolver struct {
	Service       *string `yaml:"service"`
	ZoneFile      *string `yaml:"zoneFile"`
	ResolvConf    *string `yaml:"resolvConf"`
	LocalAddress  *string `yaml:"localAddress"`
	PublicAddress *string `yaml:"publicAddress"`
}

type Services struct {
	IPUpdater     *string `yaml:"ipUpdater"`
	DomainUpdater *string `yaml:"domainUpdater"`
}

type Control struct {
	OperatorID *int64       `yaml:"operatorID"`
	HTTP       *ControlHTTP `yaml:"http"`
}

type ControlHTTP struct {
	Enabled *bool   `yaml:"enabled"`
	Address *string `yaml:"address"`
	Port    *uint16 `yaml:"port"`
}
