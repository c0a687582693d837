package speech

// Voice is one entry in the synthesis voice catalog.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// Voices returns the fixed catalog of supported synthesis voices.
func Voices() []Voice {
	return []Voice{
		{ID: "longxiaochun", Name: "Longxiaochun", Locale: "zh-CN"},
		{ID: "longxiaoxia", Name: "Longxiaoxia", Locale: "zh-CN"},
		{ID: "longwan", Name: "Longwan", Locale: "zh-CN"},
		{ID: "longcheng", Name: "Longcheng", Locale: "zh-CN"},
		{ID: "longhua", Name: "Longhua", Locale: "zh-CN"},
		{ID: "longshu", Name: "Longshu", Locale: "zh-CN"},
		{ID: "loongstella", Name: "Stella", Locale: "en-US"},
		{ID: "loongbella", Name: "Bella", Locale: "en-US"},
	}
}
