package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompts holds user-facing texts. Placeholders in braces are filled by Render.
type Prompts struct {
	Welcome            string `yaml:"welcome"`
	Help               string `yaml:"help"`
	Unauthorized       string `yaml:"unauthorized"`
	BootstrapDone      string `yaml:"bootstrap_done"`
	Processing         string `yaml:"processing"`
	Elapsed            string `yaml:"elapsed"`
	PhotoDefault       string `yaml:"photo_default"`
	VideoDefault       string `yaml:"video_default"`
	VideoProgress      string `yaml:"video_progress"`
	VideoDone          string `yaml:"video_done"`
	Transcribing       string `yaml:"transcribing"`
	EmptyTranscription string `yaml:"empty_transcription"`
	NoResponse         string `yaml:"no_response"`
	NoResponseVision   string `yaml:"no_response_vision"`
	Error              string `yaml:"error"`
	MediaFailed        string `yaml:"media_failed"`
	NewSession         string `yaml:"new_session"`
	ModelSet           string `yaml:"model_set"`
	ModelCurrent       string `yaml:"model_current"`
	ModelUnknown       string `yaml:"model_unknown"`
	ModelsHeader       string `yaml:"models_header"`
	SessionsHeader     string `yaml:"sessions_header"`
	SessionSwitched    string `yaml:"session_switched"`
	Status             string `yaml:"status"`
}

// DefaultPrompts returns the built-in texts.
func DefaultPrompts() Prompts {
	return Prompts{
		Welcome:            "Connected. Send text, voice, photos or video.\nUse /help for commands.",
		Help:               "/new - start a new session\n/sessions - switch session\n/model [provider/model] - show or set the model\n/models - pick a model\n/status - show current state",
		Unauthorized:       "Unauthorized.\nuser_id={user_id}\nAdd it to {key} to allow access.",
		BootstrapDone:      "You are now the owner of this bot (user_id={user_id}). Applying configuration...",
		Processing:         "⏳ Processing...",
		Elapsed:            "⏳ Processing... {seconds}s",
		PhotoDefault:       "Describe this image.",
		VideoDefault:       "These are {frames} frames sampled every 2 seconds from a {duration}s video. Describe what happens.",
		VideoProgress:      "🎬 Extracting frames... {percent}%",
		VideoDone:          "🎬 Extracting frames... done",
		Transcribing:       "🎙 Transcribing...",
		EmptyTranscription: "Could not recognise any speech in that voice message.",
		NoResponse:         "The model returned no response.",
		NoResponseVision:   "The model returned no response. It may not support images; try a vision-capable model with /models.",
		Error:              "Error: {error}",
		MediaFailed:        "Could not process the attachment: {error}",
		NewSession:         "Started a new session: {session}",
		ModelSet:           "Model set to {model}",
		ModelCurrent:       "Current model: {model}",
		ModelUnknown:       "Unknown model {model}. Use /models to see what is available.",
		ModelsHeader:       "Select a model:",
		SessionsHeader:     "Select a session:",
		SessionSwitched:    "Switched to session {session}",
		Status:             "Session: {session}\nModel: {model}\nSynced topics: {topics}",
	}
}

// LoadPrompts overlays the non-empty entries of the YAML file at path on the
// defaults. A missing file yields the defaults.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return prompts, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prompts, nil
		}
		return prompts, err
	}
	var overlay map[string]string
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return prompts, fmt.Errorf("parse prompts: %w", err)
	}
	for k, v := range overlay {
		if strings.TrimSpace(v) == "" {
			delete(overlay, k)
		}
	}
	if len(overlay) == 0 {
		return prompts, nil
	}
	merged, err := yaml.Marshal(overlay)
	if err != nil {
		return prompts, err
	}
	if err := yaml.Unmarshal(merged, &prompts); err != nil {
		return prompts, fmt.Errorf("apply prompts: %w", err)
	}
	return prompts, nil
}

// Render replaces {name} placeholders in tpl with vars.
func Render(tpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
