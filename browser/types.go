package browser

// Target mirrors Target.TargetInfo.
type Target struct {
	TargetID   string `json:"targetId"`
	TargetType string `json:"type"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

func (t *Target) isPage() bool {
	return t.TargetType == "page" || t.TargetType == "tab"
}

// CDPSession is a flattened protocol session attached to one target.
type CDPSession struct {
	TargetID  string
	SessionID string
}
