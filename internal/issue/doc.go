// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries remediation hints for failures surfaced by the CLI.
// The catalog in issue.go explains every call status in Markdown, rendered
// with glamour by "cokernel explain".
package issue
