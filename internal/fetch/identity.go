package fetch

// Identity is a simulated client presented to the video host.
type Identity struct {
	Name         string
	PlayerClient string // yt-dlp youtube:player_client value, "" for the tool default
	UserAgent    string
}

// knownIdentities maps configured client names to their fingerprint.
var knownIdentities = map[string]Identity{
	"default": {Name: "default"},
	"web": {
		Name:         "web",
		PlayerClient: "web",
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	},
	"web_safari": {
		Name:         "web_safari",
		PlayerClient: "web_safari",
		UserAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	},
	"mweb": {
		Name:         "mweb",
		PlayerClient: "mweb",
		UserAgent:    "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	},
	"tv_embedded": {
		Name:         "tv_embedded",
		PlayerClient: "tv_embedded",
		UserAgent:    "Mozilla/5.0 (PlayStation; PlayStation 4/12.00) AppleWebKit/605.1.15 (KHTML, like Gecko)",
	},
	"android_vr": {Name: "android_vr", PlayerClient: "android_vr"},
	"ios":        {Name: "ios", PlayerClient: "ios"},
}

// Identities resolves names in order. Unknown names become a bare
// player_client identity so new yt-dlp clients need no code change.
func Identities(names []string) []Identity {
	out := make([]Identity, 0, len(names))
	for _, n := range names {
		if id, ok := knownIdentities[n]; ok {
			out = append(out, id)
			continue
		}
		out = append(out, Identity{Name: n, PlayerClient: n})
	}
	return out
}

// args returns the yt-dlp flags for this identity with an optional PO token.
func (id Identity) args(token string) []string {
	var out []string
	extractor := ""
	if id.PlayerClient != "" {
		extractor = "player_client=" + id.PlayerClient
	}
	if token != "" {
		client := id.PlayerClient
		if client == "" {
			client = "web"
		}
		if extractor != "" {
			extractor += ";"
		}
		extractor += "po_token=" + client + ".gvs+" + token
	}
	if extractor != "" {
		out = append(out, "--extractor-args", "youtube:"+extractor)
	}
	if id.UserAgent != "" {
		out = append(out, "--user-agent", id.UserAgent)
	}
	return out
}
