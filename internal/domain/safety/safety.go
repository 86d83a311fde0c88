// Package safety implements the static rule check applied to task prompts
// and spend amounts before an agent acts on them.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// RiskLevel classifies how dangerous a task or spend is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Result is the verdict of a safety check.
type Result struct {
	IsValid   bool      `json:"is_valid"`
	Reason    string    `json:"reason,omitempty"`
	RiskLevel RiskLevel `json:"risk_level"`
}

// BlockedActions are phrases that reject a prompt outright.
var BlockedActions = []string{
	"drain wallet",
	"transfer ownership",
	"change owner",
	"send all funds",
	"call unknown contract",
	"approve unlimited",
	"delete agent",
	"modify security",
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)0x[a-f0-9]{40}.*transfer`),
	regexp.MustCompile(`(?i)private\s*key`),
	regexp.MustCompile(`(?i)seed\s*phrase`),
	regexp.MustCompile(`(?i)withdraw\s*all`),
	regexp.MustCompile(`(?i)send\s*everything`),
	regexp.MustCompile(`(?i)unlimited\s*approval`),
	regexp.MustCompile(`(?i)selfdestruct`),
	regexp.MustCompile(`(?i)delegatecall`),
}

var (
	highRiskKeywords   = []string{"transfer", "send", "pay", "withdraw", "contract"}
	mediumRiskKeywords = []string{"execute", "call", "invoke", "transaction"}
)

// mediumSpend is the amount above which a permitted spend is medium risk.
var mediumSpend = decimal.RequireFromString("0.01")

// Validate checks a task prompt against the blocklist and the suspicious
// patterns, then classifies the risk of an accepted prompt. It is pure.
func Validate(prompt string) Result {
	lower := strings.ToLower(prompt)

	for _, blocked := range BlockedActions {
		if strings.Contains(lower, blocked) {
			return Result{Reason: "Action not allowed: " + blocked, RiskLevel: RiskHigh}
		}
	}

	for _, re := range suspiciousPatterns {
		if re.MatchString(lower) {
			return Result{Reason: "Suspicious patterns detected in task", RiskLevel: RiskHigh}
		}
	}

	return Result{IsValid: true, RiskLevel: assessRisk(lower)}
}

func assessRisk(lower string) RiskLevel {
	if containsAny(lower, highRiskKeywords) {
		return RiskHigh
	}
	if containsAny(lower, mediumRiskKeywords) {
		return RiskMedium
	}
	return RiskLow
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ValidateSpend rejects a single spend above ceiling.
func ValidateSpend(amount, ceiling decimal.Decimal) Result {
	if amount.GreaterThan(ceiling) {
		return Result{
			Reason: fmt.Sprintf("Amount %s ETH exceeds maximum single transaction limit of %s ETH",
				amount.String(), ceiling.String()),
			RiskLevel: RiskHigh,
		}
	}
	if amount.GreaterThan(mediumSpend) {
		return Result{IsValid: true, RiskLevel: RiskMedium}
	}
	return Result{IsValid: true, RiskLevel: RiskLow}
}
