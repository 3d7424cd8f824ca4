package domain

type SyncMode string

const (
	SyncModeRealtime  SyncMode = "realtime"
	SyncModeScheduled SyncMode = "scheduled"
)

// BridgeConfig is the operator-editable configuration served by /config.
type BridgeConfig struct {
	TallyURL     string   `json:"tallyUrl" yaml:"tally_url"`
	CompanyName  string   `json:"companyName" yaml:"company_name"`
	WebAPIURL    string   `json:"webApiUrl" yaml:"web_api_url"`
	SyncMode     SyncMode `json:"syncMode" yaml:"sync_mode"`
	SyncInterval int      `json:"syncInterval" yaml:"sync_interval"` // minutes
	AutoStart    bool     `json:"autoStart" yaml:"auto_start"`
	DataTypes    []string `json:"dataTypes" yaml:"data_types"`
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		TallyURL:     "http://localhost:9000",
		CompanyName:  "",
		WebAPIURL:    "http://localhost:8080",
		SyncMode:     SyncModeRealtime,
		SyncInterval: 5,
		AutoStart:    false,
		DataTypes:    []string{"ledgers", "vouchers", "orders"},
	}
}

// BridgeConfigPatch carries only the options a caller specified.
type BridgeConfigPatch struct {
	TallyURL     *string   `json:"tallyUrl" validate:"omitempty,url"`
	CompanyName  *string   `json:"companyName" validate:"omitempty,max=255"`
	WebAPIURL    *string   `json:"webApiUrl" validate:"omitempty,url"`
	SyncMode     *SyncMode `json:"syncMode" validate:"omitempty,oneof=realtime scheduled"`
	SyncInterval *int      `json:"syncInterval" validate:"omitempty,min=1,max=1440"`
	AutoStart    *bool     `json:"autoStart"`
	DataTypes    []string  `json:"dataTypes" validate:"omitempty,dive,required"`
}

// Merge returns c with every specified field of p applied.
func (c BridgeConfig) Merge(p BridgeConfigPatch) BridgeConfig {
	out := c
	out.DataTypes = append([]string(nil), c.DataTypes...)
	if p.TallyURL != nil {
		out.TallyURL = *p.TallyURL
	}
	if p.CompanyName != nil {
		out.CompanyName = *p.CompanyName
	}
	if p.WebAPIURL != nil {
		out.WebAPIURL = *p.WebAPIURL
	}
	if p.SyncMode != nil {
		out.SyncMode = *p.SyncMode
	}
	if p.SyncInterval != nil {
		out.SyncInterval = *p.SyncInterval
	}
	if p.AutoStart != nil {
		out.AutoStart = *p.AutoStart
	}
	if p.DataTypes != nil {
		out.DataTypes = append([]string(nil), p.DataTypes...)
	}
	return out
}
