// Package sales wires the session outcome record into an agent session: the
// sales prompt, the recorder tools and the transcript shutdown hook.
package sales

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/closer/pkg/agent"
)

// Product is the item the agent offers. Discount is a percentage.
type Product struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Discount    float64 `json:"discount"`
}

var DefaultProduct = Product{
	ID:          9,
	Name:        "Bluetooth Speaker",
	Description: "Portable Bluetooth speaker with 360-degree sound and waterproof design",
	Price:       89.99,
	Discount:    30,
}

// ProductFromConfig falls back to DefaultProduct when no name is configured.
func ProductFromConfig(cfg agent.ProductConfig) Product {
	if strings.TrimSpace(cfg.Name) == "" {
		return DefaultProduct
	}
	return Product{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Price:       cfg.Price,
		Discount:    cfg.Discount,
	}
}

// DiscountedPrice applies the discount, rounded to cents.
func (p Product) DiscountedPrice() float64 {
	price := p.Price * (1 - p.Discount/100)
	return float64(int64(price*100+0.5)) / 100
}

// Instructions renders the system prompt of the sales agent.
func Instructions(p Product) string {
	info, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		info = []byte(fmt.Sprintf("%s: %s", p.Name, p.Description))
	}
	var b strings.Builder
	b.WriteString("You are a helpful voice AI assistant.\n")
	b.WriteString("* Do not produce special characters like emojis or emoticons.\n")
	b.WriteString("* Your main goal is to persuade the customer to buy the product.\n")
	b.WriteString("* Keep your speech short and concise.\n")
	b.WriteString("* Do not give the full product description all at once. Begin with the product name and ask if the user wants to learn more at each step so the conversation flows naturally.\n\n")
	b.WriteString("Product Information:\n")
	b.Write(info)
	fmt.Fprintf(&b, "\nWith the discount the price is %.2f.\n\n", p.DiscountedPrice())
	b.WriteString("Conversation Rules:\n\n")
	b.WriteString("1. Answer any questions the user has about the product.\n")
	b.WriteString("2. After presenting the product and answering questions, ask if the user would like to purchase it.\n")
	fmt.Fprintf(&b, "3. If the user says yes, call %s with wants_to_buy true, then collect their name with %s and their phone number with %s, then say goodbye.\n",
		ToolRecordDecision, ToolRecordName, ToolRecordPhone)
	b.WriteString("4. If the user says no, politely thank them for their time and say goodbye.\n")
	fmt.Fprintf(&b, "5. If at any point the user states they do not want to buy the product, use the tool %s to record their decision.\n\n", ToolRecordDecision)
	b.WriteString("Goal: Persuade the customer to buy the product while following the above rules.")
	return b.String()
}

// SystemPrompt prepends the configured base prompt and agent profile to the
// product instructions.
func SystemPrompt(cfg agent.Config, p Product) string {
	var parts []string
	if s := strings.TrimSpace(cfg.BasePrompt); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(cfg.Agent.Persona); s != "" {
		parts = append(parts, "Your name is "+s+".")
	}
	if s := strings.TrimSpace(cfg.Agent.Style); s != "" {
		parts = append(parts, "Speaking style: "+s+".")
	}
	parts = append(parts, Instructions(p))
	return strings.Join(parts, "\n\n")
}
