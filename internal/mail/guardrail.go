package mail

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Engine runs the admission-control checks for outgoing mail. All five checks
// always run; the verdict carries full diagnostics even when the first check
// already blocks.
type Engine struct {
	limiter *RateLimiter
}

// Verdict aggregates the per-check results into a pass/fail decision.
// Passed is false iff BlockingIssues is non-empty.
type Verdict struct {
	Passed         bool                   `json:"passed"`
	Checks         map[string]CheckResult `json:"checks"`
	BlockingIssues []string               `json:"blocking_issues"`
	Warnings       []string               `json:"warnings"`
}

// CheckResult is the outcome of a single guardrail check.
type CheckResult struct {
	Passed   bool     `json:"passed"`
	Message  string   `json:"message,omitempty"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Score    int      `json:"score,omitempty"`
	Severity string   `json:"severity,omitempty"`
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	linkPattern  = regexp.MustCompile(`https?://[A-Za-z0-9$@.&+!*(),%_/=?#~-]+`)

	spamPatterns = []*regexp.Regexp{
		regexp.MustCompile(`!!!+`),
		regexp.MustCompile(`\$\$\$+`),
		regexp.MustCompile(`(?i)FREE!!!`),
		regexp.MustCompile(`(?i)CLICK HERE NOW`),
		regexp.MustCompile(`(?i)ACT NOW`),
		regexp.MustCompile(`(?i)LIMITED TIME`),
		regexp.MustCompile(`(?i)100% FREE`),
		regexp.MustCompile(`(?i)EARN \$\$\$`),
	}

	suspiciousKeywords = []string{
		"viagra", "cialis", "casino", "lottery", "winner",
		"nigerian prince", "inheritance", "bank transfer",
		"password", "social security", "credit card",
	}

	disposableDomains = []string{"tempmail.com", "10minutemail.com", "guerrillamail.com"}

	phishingPhrases = []string{
		"verify your account",
		"confirm your identity",
		"update your information",
		"suspended account",
		"unusual activity",
	}

	genericGreetings = []string{"dear sir/madam", "to whom it may concern", "dear customer"}

	shortenerDomains = []string{"bit.ly", "tinyurl", "goo.gl"}
)

// Spam score weights and thresholds.
const (
	spamPatternWeight   = 10
	suspiciousKwWeight  = 15
	capsRatioWeight     = 20
	exclamationWeight   = 5
	subjectLengthWeight = 5

	spamBlockThreshold = 30
	spamWarnThreshold  = 15
	spamHighThreshold  = 50

	maxSafeLinks     = 5
	safetyHighIssues = 3

	minSubjectLen = 10
	maxSubjectLen = 100
)

// NewEngine creates a guardrail engine sharing the given rate limiter.
func NewEngine(limiter *RateLimiter) *Engine {
	return &Engine{limiter: limiter}
}

// Evaluate runs all checks against the candidate message. recipientName may
// be empty; it only feeds the non-blocking personalization check.
func (e *Engine) Evaluate(subject, body, recipient, recipientName string) Verdict {
	v := Verdict{
		Passed: true,
		Checks: make(map[string]CheckResult, 5),
	}

	// 1. Rate limit
	canSend, rateMsg := e.limiter.MaySend()
	v.Checks["rate_limit"] = CheckResult{Passed: canSend, Message: rateMsg}
	if !canSend {
		v.Passed = false
		v.BlockingIssues = append(v.BlockingIssues, rateMsg)
	}

	// 2. Recipient format
	format := checkRecipientFormat(recipient)
	v.Checks["email_format"] = format
	if !format.Passed {
		v.Passed = false
		v.BlockingIssues = append(v.BlockingIssues, format.Issues...)
	}

	// 3. Spam score
	spam := checkSpamScore(subject, body)
	v.Checks["spam"] = spam
	if !spam.Passed {
		v.Passed = false
		v.BlockingIssues = append(v.BlockingIssues, fmt.Sprintf("high spam score: %d", spam.Score))
	} else if spam.Score > spamWarnThreshold {
		v.Warnings = append(v.Warnings, spam.Issues...)
	}

	// 4. Content safety
	safety := checkContentSafety(body)
	v.Checks["safety"] = safety
	if len(safety.Issues) > 0 {
		if safety.Severity == "high" {
			v.Passed = false
			v.BlockingIssues = append(v.BlockingIssues, safety.Issues...)
		} else {
			v.Warnings = append(v.Warnings, safety.Issues...)
		}
	}

	// 5. Personalization (never blocks)
	personalization := checkPersonalization(body, recipientName)
	v.Checks["personalization"] = personalization
	v.Warnings = append(v.Warnings, personalization.Warnings...)

	return v
}

// checkSpamScore applies the weighted heuristic over subject and body. The
// result always carries the numeric score and the specific triggers.
func checkSpamScore(subject, body string) CheckResult {
	score := 0
	var issues []string

	raw := subject + " " + body
	content := strings.ToLower(raw)

	for _, pat := range spamPatterns {
		if pat.MatchString(content) {
			score += spamPatternWeight
			issues = append(issues, fmt.Sprintf("spam pattern detected: %s", pat.String()))
		}
	}

	for _, kw := range suspiciousKeywords {
		if strings.Contains(content, kw) {
			score += suspiciousKwWeight
			issues = append(issues, fmt.Sprintf("suspicious keyword: %s", kw))
		}
	}

	// Caps ratio is computed on the raw text, before lowercasing.
	upper := 0
	total := 0
	for _, r := range raw {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if total > 0 {
		ratio := float64(upper) / float64(total)
		if ratio > 0.3 {
			score += capsRatioWeight
			issues = append(issues, fmt.Sprintf("excessive caps: %.1f%%", ratio*100))
		}
	}

	exclaims := strings.Count(content, "!")
	if exclaims > 3 {
		score += exclamationWeight * (exclaims - 3)
		issues = append(issues, fmt.Sprintf("too many exclamation marks: %d", exclaims))
	}

	subjectLen := utf8.RuneCountInString(subject)
	if subjectLen < minSubjectLen {
		score += subjectLengthWeight
		issues = append(issues, "subject too short")
	} else if subjectLen > maxSubjectLen {
		score += subjectLengthWeight
		issues = append(issues, "subject too long")
	}

	severity := "low"
	switch {
	case score >= spamHighThreshold:
		severity = "high"
	case score >= spamBlockThreshold:
		severity = "medium"
	}

	return CheckResult{
		Passed:   score < spamBlockThreshold,
		Issues:   issues,
		Score:    score,
		Severity: severity,
	}
}

// checkRecipientFormat validates the address syntax and rejects disposable
// domains and common domain typos.
func checkRecipientFormat(email string) CheckResult {
	var issues []string

	if !emailPattern.MatchString(email) {
		issues = append(issues, fmt.Sprintf("invalid email format: %s", email))
	}
	if strings.Contains(email, ".con") || strings.Contains(email, ".cmo") {
		issues = append(issues, "possible typo in domain")
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain := strings.ToLower(email[at+1:])
		for _, d := range disposableDomains {
			if domain == d {
				issues = append(issues, "disposable email domain detected")
				break
			}
		}
	}

	return CheckResult{Passed: len(issues) == 0, Issues: issues}
}

// checkContentSafety flags link abuse, shortened URLs, phishing phrasing and
// markup injection. More than safetyHighIssues findings escalate to "high".
func checkContentSafety(body string) CheckResult {
	var issues []string

	links := linkPattern.FindAllString(body, -1)
	if len(links) > maxSafeLinks {
		issues = append(issues, fmt.Sprintf("too many links: %d", len(links)))
	}
	for _, link := range links {
		lower := strings.ToLower(link)
		for _, short := range shortenerDomains {
			if strings.Contains(lower, short) {
				issues = append(issues, fmt.Sprintf("shortened URL detected: %s", link))
				break
			}
		}
	}

	lowerBody := strings.ToLower(body)
	for _, phrase := range phishingPhrases {
		if strings.Contains(lowerBody, phrase) {
			issues = append(issues, fmt.Sprintf("potential phishing phrase: %s", phrase))
		}
	}
	if strings.Contains(lowerBody, "<script") || strings.Contains(lowerBody, "javascript:") {
		issues = append(issues, "potential script injection detected")
	}

	severity := "low"
	switch {
	case len(issues) > safetyHighIssues:
		severity = "high"
	case len(issues) > 0:
		severity = "medium"
	}

	return CheckResult{Passed: len(issues) == 0, Issues: issues, Severity: severity}
}

// checkPersonalization warns on generic salutations, a missing recipient name
// and unresolved template placeholders. It never blocks.
func checkPersonalization(body, recipientName string) CheckResult {
	var warnings []string

	lowerBody := strings.ToLower(body)
	for _, greeting := range genericGreetings {
		if strings.Contains(lowerBody, greeting) {
			warnings = append(warnings, "generic greeting detected - consider personalizing")
			break
		}
	}
	if recipientName != "" && !strings.Contains(lowerBody, strings.ToLower(recipientName)) {
		warnings = append(warnings, fmt.Sprintf("recipient name %q not found in email", recipientName))
	}
	if strings.Contains(body, "{{") || strings.Contains(body, "}}") || strings.Contains(body, "[NAME]") {
		warnings = append(warnings, "unreplaced merge tags detected")
	}

	return CheckResult{Passed: true, Warnings: warnings}
}
