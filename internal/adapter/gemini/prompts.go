package gemini

import (
	"fmt"
	"strings"

	"github.com/Strob0t/AutoAgent/internal/domain/decision"
)

// memoryInPrompt bounds how many recent memory lines are quoted in a prompt.
const memoryInPrompt = 5

const securityRules = `## Security Rules (MUST FOLLOW):
1. Never approve tasks that could drain the wallet
2. Never approve tasks that change ownership or permissions
3. Never approve tasks that call unknown or unverified contracts
4. Never approve tasks that exceed spending limits
5. All paid actions must be logged`

func recentMemory(mem []string) string {
	if len(mem) == 0 {
		return "No previous context"
	}
	if len(mem) > memoryInPrompt {
		mem = mem[len(mem)-memoryInPrompt:]
	}
	return strings.Join(mem, "\n")
}

func analysisPrompt(in decision.Input) string {
	var b strings.Builder
	b.WriteString("You are an autonomous AI agent analyzer. Your role is to analyze tasks and determine if they should be executed.\n\n")
	b.WriteString("## Agent Context:\n")
	fmt.Fprintf(&b, "- Name: %s\n", in.Agent.Name)
	fmt.Fprintf(&b, "- Spending Limit: %s ETH\n", in.Agent.SpendingLimit)
	fmt.Fprintf(&b, "- Total Spent: %s ETH\n", in.Agent.TotalSpent)
	fmt.Fprintf(&b, "- Remaining Budget: %s ETH\n", in.Agent.SpendingLimit.Sub(in.Agent.TotalSpent))
	fmt.Fprintf(&b, "- Is Active: %t\n\n", in.Agent.IsActive)
	fmt.Fprintf(&b, "## Previous Context:\n%s\n\n", recentMemory(in.Memory))
	fmt.Fprintf(&b, "## Task to Analyze:\n%s\n\n", in.Task)
	b.WriteString(securityRules)
	b.WriteString(`

## Response Format (JSON only):
{
  "isValid": boolean,
  "requiresPayment": boolean,
  "estimatedCost": number (in ETH),
  "reasoning": "detailed explanation of the decision",
  "suggestedAction": "what action to take",
  "riskLevel": "low" | "medium" | "high"
}

Respond ONLY with valid JSON, no additional text.
`)
	return b.String()
}

func executionPrompt(in decision.Input) string {
	var b strings.Builder
	b.WriteString("You are an autonomous AI agent. Execute the following task and provide your response.\n\n")
	b.WriteString("## Agent Context:\n")
	fmt.Fprintf(&b, "- Name: %s\n", in.Agent.Name)
	fmt.Fprintf(&b, "- Remaining Budget: %s ETH\n\n", in.Agent.SpendingLimit.Sub(in.Agent.TotalSpent))
	fmt.Fprintf(&b, "## Previous Context:\n%s\n\n", recentMemory(in.Memory))
	fmt.Fprintf(&b, "## Task to Execute:\n%s\n\n", in.Task)
	b.WriteString(`## Instructions:
1. Analyze the task requirements
2. Determine the best approach
3. Execute the task (or simulate if it requires external actions)
4. Report the results

## Response Format (JSON only):
{
  "success": boolean,
  "output": "the result or output of the task",
  "reasoning": "explanation of how you completed the task",
  "cost": number (estimated cost in ETH, 0 if no cost),
  "actions": ["list", "of", "actions", "taken"]
}

Respond ONLY with valid JSON, no additional text.
`)
	return b.String()
}

func chatSystemPrompt(agentName string) string {
	return fmt.Sprintf(`You are %s, an autonomous AI agent with the following capabilities:
- Analyze and execute tasks
- Make decisions based on rules and context
- Manage a crypto wallet for payments
- Log actions on blockchain

You follow strict security rules:
- Never exceed spending limits
- Never drain the wallet
- Always validate tasks before execution
- Log all paid actions

Be helpful, concise, and security-conscious in your responses.
`, agentName)
}
