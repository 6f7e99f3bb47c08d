// Package agent defines the autonomous viewer that purchases tickets.
package agent

import (
	"time"

	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/types"
)

// Agent is a registered ticket buyer. AgentID is chosen by the caller and
// never changes; WalletAddress is supplied at registration.
type Agent struct {
	types.Entity
	ID                 id.AgentID  `json:"id"`
	AgentID            string      `json:"agent_id"`
	WalletAddress      string      `json:"wallet_address"`
	Balance            types.Money `json:"balance"`
	BalanceRefreshedAt *time.Time  `json:"balance_refreshed_at,omitempty"`
	OwnerRef           string      `json:"owner_ref,omitempty"`
	OwnerEmail         string      `json:"owner_email,omitempty"`
	Verified           bool        `json:"verified"`
}

// HasOwner reports whether digests can be delivered for this agent.
func (a *Agent) HasOwner() bool { return a.OwnerRef != "" }
