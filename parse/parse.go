package parse

import (
	"regexp"
	"strings"
)

// DefaultBranch is used when a command names no branch.
const DefaultBranch = "main"

// Variable keys forwarded to the CI provider.
const (
	VarDeployEnv = "DEPLOY_ENV"
	VarService   = "SERVICE"
	VarVersion   = "VERSION"
)

// Intent is the coarse classification of a chat command.
type Intent int

const (
	Unknown Intent = iota
	TriggerPipeline
	PipelineStatus
	CancelPipeline
	ListMergeRequests
	Greeting
	Help
)

func (i Intent) String() string {
	switch i {
	case TriggerPipeline:
		return "trigger_pipeline"
	case PipelineStatus:
		return "pipeline_status"
	case CancelPipeline:
		return "cancel_pipeline"
	case ListMergeRequests:
		return "list_merge_requests"
	case Greeting:
		return "greeting"
	case Help:
		return "help"
	default:
		return "unknown"
	}
}

// Command is the result of parsing one inbound message.
type Command struct {
	Intent    Intent
	Branch    string
	Variables map[string]string
}

// phrases is evaluated in order; the first phrase contained in the text wins.
var phrases = []struct {
	phrase string
	intent Intent
}{
	{"trigger pipeline", TriggerPipeline},
	{"pipeline status", PipelineStatus},
	{"merge requests", ListMergeRequests},
	{"cancel pipeline", CancelPipeline},
	{"hello", Greeting},
	{"help", Help},
}

// Parse classifies text by exact command phrase and extracts its arguments.
// Text that matches no phrase yields Unknown; callers decide how to fall back.
func Parse(text string) Command {
	lower := strings.ToLower(text)

	intent := Unknown
	for _, p := range phrases {
		if strings.Contains(lower, p.phrase) {
			intent = p.intent
			break
		}
	}
	return WithIntent(intent, lower)
}

// WithIntent builds a Command for an intent decided elsewhere, extracting the
// branch (defaulting to main) and deployment variables from text.
func WithIntent(intent Intent, text string) Command {
	lower := strings.ToLower(text)
	branch, ok := ExtractBranch(lower)
	if !ok {
		branch = DefaultBranch
	}
	return Command{
		Intent:    intent,
		Branch:    branch,
		Variables: ExtractVariables(lower),
	}
}

var (
	branchPattern  = regexp.MustCompile("\\b(?:branch|on)\\s+`?([a-zA-Z0-9_/-]+)`?")
	envPattern     = regexp.MustCompile(`\b(?:to|environment)\s+(staging|production|dev|test)\b`)
	servicePattern = regexp.MustCompile(`\b(?:for|deploy|update|restart)\s+([a-zA-Z0-9_-]+)`)
	versionPattern = regexp.MustCompile(`\b(?:version|tag)\s+([a-zA-Z0-9_.-]+)`)
	mrPattern      = regexp.MustCompile(`\bmrs?\b`)
)

// ExtractBranch returns the token following "branch" or "on".
func ExtractBranch(text string) (string, bool) {
	m := branchPattern.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// ExtractVariables pulls DEPLOY_ENV, SERVICE and VERSION out of text. Keys
// with no match are left out of the map, never stored empty.
//
// The SERVICE pattern takes the word after "for", "deploy", "update" or
// "restart" without looking at the rest of the sentence, so "deploy on x"
// yields SERVICE=on.
func ExtractVariables(text string) map[string]string {
	vars := make(map[string]string)
	set := func(key string, re *regexp.Regexp) {
		if m := re.FindStringSubmatch(text); m != nil && m[1] != "" {
			vars[key] = m[1]
		}
	}
	set(VarDeployEnv, envPattern)
	set(VarService, servicePattern)
	set(VarVersion, versionPattern)
	return vars
}

// DetectIntentLabel is a keyword classifier for free text that matched no
// exact command phrase. Priority is trigger/deploy, then cancel, then status,
// then merge/pull requests; anything else is Unknown.
func DetectIntentLabel(text string) Intent {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "trigger") || strings.Contains(lower, "deploy"):
		return TriggerPipeline
	case strings.Contains(lower, "cancel"):
		return CancelPipeline
	case strings.Contains(lower, "status"):
		return PipelineStatus
	case strings.Contains(lower, "merge request") || strings.Contains(lower, "pull request") || mrPattern.MatchString(lower):
		return ListMergeRequests
	default:
		return Unknown
	}
}

// Intent display names sent by the intent-recognition webhook.
const (
	TriggerPipelineIntentName = "TriggerPipelineIntent"
	PipelineStatusIntentName  = "PipelineStatusIntent"
	CancelPipelineIntentName  = "CancelPipelineIntent"
	ListMRIntentName          = "ListMRIntent"
)

// IntentFromDisplayName maps a webhook intent name to an Intent.
func IntentFromDisplayName(name string) Intent {
	switch name {
	case TriggerPipelineIntentName:
		return TriggerPipeline
	case PipelineStatusIntentName:
		return PipelineStatus
	case CancelPipelineIntentName:
		return CancelPipeline
	case ListMRIntentName:
		return ListMergeRequests
	default:
		return Unknown
	}
}
