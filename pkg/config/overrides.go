package config

// Overrides is one layer of configuration. Nil fields are left untouched
// when the layer is applied. Config files are parsed into Overrides, and
// command line flags are collected into one.
type Overrides struct {
	Version string `json:"version,omitempty"`

	DataRoot          *string   `json:"dataRoot,omitempty"`
	DataStore         *string   `json:"dataStore,omitempty"`
	Transport         *string   `json:"transport,omitempty"`
	RsyncCmd          *string   `json:"rsyncCmd,omitempty"`
	RsyncListOpts     *[]string `json:"rsyncListOpts,omitempty"`
	RsyncSyncOpts     *[]string `json:"rsyncSyncOpts,omitempty"`
	SubdirsAsDatasets *bool     `json:"subdirsAsDatasets,omitempty"`
	DirPattern        *string   `json:"dirPattern,omitempty"`
	LocalDir          *string   `json:"localDir,omitempty"`
	HashAlgorithm     *string   `json:"hashAlgorithm,omitempty"`
	TransferTimeout   *Duration `json:"transferTimeout,omitempty"`
	ListWorkers       *int      `json:"listWorkers,omitempty"`

	SFTP *SFTPOverrides `json:"sftp,omitempty"`
}

// SFTPOverrides is the layer form of SFTP.
type SFTPOverrides struct {
	User                  *string `json:"user,omitempty"`
	Port                  *int    `json:"port,omitempty"`
	IdentityFile          *string `json:"identityFile,omitempty"`
	Password              *string `json:"password,omitempty"`
	KnownHostsFile        *string `json:"knownHostsFile,omitempty"`
	InsecureIgnoreHostKey *bool   `json:"insecureIgnoreHostKey,omitempty"`
}

// Apply returns a copy of `cfg` with every set field of the layer written
// over it.
func (o Overrides) Apply(cfg Config) Config {
	setString(&cfg.DataRoot, o.DataRoot)
	setString(&cfg.DataStore, o.DataStore)
	setString(&cfg.Transport, o.Transport)
	setString(&cfg.RsyncCmd, o.RsyncCmd)
	if o.RsyncListOpts != nil {
		cfg.RsyncListOpts = append([]string(nil), *o.RsyncListOpts...)
	}
	if o.RsyncSyncOpts != nil {
		cfg.RsyncSyncOpts = append([]string(nil), *o.RsyncSyncOpts...)
	}
	setBool(&cfg.SubdirsAsDatasets, o.SubdirsAsDatasets)
	setString(&cfg.DirPattern, o.DirPattern)
	setString(&cfg.LocalDir, o.LocalDir)
	setString(&cfg.HashAlgorithm, o.HashAlgorithm)
	if o.TransferTimeout != nil {
		cfg.TransferTimeout = *o.TransferTimeout
	}
	if o.ListWorkers != nil {
		cfg.ListWorkers = *o.ListWorkers
	}

	if o.SFTP != nil {
		setString(&cfg.SFTP.User, o.SFTP.User)
		if o.SFTP.Port != nil {
			cfg.SFTP.Port = *o.SFTP.Port
		}
		setString(&cfg.SFTP.IdentityFile, o.SFTP.IdentityFile)
		setString(&cfg.SFTP.Password, o.SFTP.Password)
		setString(&cfg.SFTP.KnownHostsFile, o.SFTP.KnownHostsFile)
		setBool(&cfg.SFTP.InsecureIgnoreHostKey, o.SFTP.InsecureIgnoreHostKey)
	}
	return cfg
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// String returns a pointer to `s`, for building Overrides literals.
func String(s string) *string {
	return &s
}

// Bool returns a pointer to `b`, for building Overrides literals.
func Bool(b bool) *bool {
	return &b
}

// Int returns a pointer to `i`, for building Overrides literals.
func Int(i int) *int {
	return &i
}
