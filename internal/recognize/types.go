package recognize

// recognizeRequest is the request body of the speech:recognize endpoint.
type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type recognitionConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	AudioChannels   int    `json:"audioChannelCount,omitempty"`
	LanguageCode    string `json:"languageCode"`
	MaxAlternatives int    `json:"maxAlternatives,omitempty"`
}

type recognitionAudio struct {
	Content string `json:"content"`
}

// recognizeResponse is the response body of the speech:recognize endpoint.
// An empty body means nothing was recognized.
type recognizeResponse struct {
	Results []recognitionResult `json:"results,omitempty"`
}

type recognitionResult struct {
	Alternatives []Alternative `json:"alternatives"`
}
