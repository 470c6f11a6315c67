package validate

import (
	"fmt"
)

// =============================================================================
// Default Check Set
// =============================================================================

// DefaultChecks returns the standard post-deployment validation suite for
// the platform API. caseID is the forensic case identifier the deployed
// instance must report.
func DefaultChecks(caseID string) []Check {
	return []Check{
		{
			Name:   "store-memory",
			Method: "POST",
			Path:   "/memory/store",
			Body:   `{"content":"deployment validation probe","metadata":{"source":"memstack-deploy"}}`,
			Assert: func(status int, body []byte) error {
				if err := expectOK(status); err != nil {
					return err
				}
				obj, err := decodeObject(body)
				if err != nil {
					return err
				}
				if obj["status"] != "success" {
					return fmt.Errorf("store returned status %q, want %q", obj["status"], "success")
				}
				return nil
			},
		},
		{
			Name:   "search-memory",
			Method: "POST",
			Path:   "/memory/search",
			Body:   `{"query":"deployment validation probe"}`,
			Assert: func(status int, body []byte) error {
				if err := expectOK(status); err != nil {
					return err
				}
				obj, err := decodeObject(body)
				if err != nil {
					return err
				}
				results, ok := obj["merged_results"].([]any)
				if !ok {
					return fmt.Errorf("search response has no merged_results array")
				}
				if len(results) == 0 {
					return fmt.Errorf("search returned no results for the stored probe")
				}
				return nil
			},
		},
		{
			Name:   "forensic-identity",
			Method: "GET",
			Path:   "/forensic",
			Assert: func(status int, body []byte) error {
				if err := expectOK(status); err != nil {
					return err
				}
				obj, err := decodeObject(body)
				if err != nil {
					return err
				}
				if obj["case_id"] != caseID {
					return fmt.Errorf("forensic case_id is %q, want %q", obj["case_id"], caseID)
				}
				return nil
			},
		},
		{
			Name:     "audit-chain",
			Method:   "GET",
			Path:     "/metrics",
			Optional: true,
			Assert: func(status int, body []byte) error {
				if err := expectOK(status); err != nil {
					return err
				}
				obj, err := decodeObject(body)
				if err != nil {
					return err
				}
				length, ok := obj["audit_chain_length"].(float64)
				if !ok {
					return fmt.Errorf("metrics response has no audit_chain_length")
				}
				if length < 1 {
					return fmt.Errorf("audit chain is empty")
				}
				return nil
			},
		},
	}
}
