package chat

import (
	"fmt"
	"strings"
)

// Product is one catalog entry.
type Product struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Price       string `yaml:"price" json:"price"`
	Stock       int    `yaml:"stock" json:"stock"`
	Description string `yaml:"description" json:"description"`
}

// Policies are the store policies quoted by the assistant and fallbacks.
type Policies struct {
	Return   string `yaml:"return" json:"return"`
	Shipping string `yaml:"shipping" json:"shipping"`
	Warranty string `yaml:"warranty" json:"warranty"`
}

// Catalog is the storefront context injected into the system prompt.
type Catalog struct {
	StoreName string    `yaml:"store_name" json:"store_name"`
	Products  []Product `yaml:"products" json:"products"`
	Policies  Policies  `yaml:"policies" json:"policies"`
}

// DefaultCatalog returns the demo storefront catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		StoreName: "TechStore Demo",
		Products: []Product{
			{ID: "1", Name: "Wireless Headphones", Price: "$99.99", Stock: 15, Description: "High-quality wireless headphones with noise cancellation"},
			{ID: "2", Name: "Smart Watch", Price: "$299.99", Stock: 8, Description: "Feature-rich smartwatch with health monitoring"},
			{ID: "3", Name: "Bluetooth Speaker", Price: "$79.99", Stock: 23, Description: "Portable speaker with premium sound quality"},
			{ID: "4", Name: "Laptop Stand", Price: "$49.99", Stock: 32, Description: "Ergonomic aluminum laptop stand with adjustable height"},
			{ID: "5", Name: "Wireless Charging Pad", Price: "$39.99", Stock: 45, Description: "Fast wireless charger compatible with all Qi-enabled devices"},
			{ID: "6", Name: "USB-C Hub", Price: "$59.99", Stock: 28, Description: "7-in-1 USB-C hub with HDMI, USB 3.0, and SD card reader"},
		},
		Policies: Policies{
			Return:   "30-day return policy",
			Shipping: "Free shipping on orders over $50",
			Warranty: "1-year manufacturer warranty",
		},
	}
}

// SystemPrompt renders the assistant instructions for this catalog.
func (c Catalog) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful customer support assistant for %s, an online electronics store.\n\n", c.StoreName)
	b.WriteString("Our Current Products:\n")
	for _, p := range c.Products {
		fmt.Fprintf(&b, "- %s: %s (%d in stock) - %s\n", p.Name, p.Price, p.Stock, p.Description)
	}
	b.WriteString("\nStore Policies:\n")
	fmt.Fprintf(&b, "- Return Policy: %s\n", c.Policies.Return)
	fmt.Fprintf(&b, "- Shipping: %s\n", c.Policies.Shipping)
	fmt.Fprintf(&b, "- Warranty: %s\n", c.Policies.Warranty)
	b.WriteString(`
Guidelines:
- Be friendly, helpful, and professional
- Focus on helping customers with product information, orders, returns, shipping, and warranties
- If asked about products not in our catalog, politely explain we don't carry them but suggest similar items we do have
- Keep responses concise and relevant to our store
- If you don't know something specific, offer to connect them with a human agent`)
	return b.String()
}

// Fallback topics, in match order.
const (
	TopicProducts = "products"
	TopicReturns  = "returns"
	TopicShipping = "shipping"
	TopicWarranty = "warranty"
	TopicDefault  = "default"
)

var fallbackKeywords = []struct {
	topic    string
	keywords []string
}{
	{TopicProducts, []string{"product", "item"}},
	{TopicReturns, []string{"return", "refund"}},
	{TopicShipping, []string{"shipping", "delivery"}},
	{TopicWarranty, []string{"warranty"}},
}

// FallbackTopic picks the canned-answer topic for message by keyword.
func FallbackTopic(message string) string {
	lower := strings.ToLower(message)
	for _, fk := range fallbackKeywords {
		for _, kw := range fk.keywords {
			if strings.Contains(lower, kw) {
				return fk.topic
			}
		}
	}
	return TopicDefault
}

// Fallback returns the deterministic canned answer for message.
func (c Catalog) Fallback(message string) string {
	switch FallbackTopic(message) {
	case TopicProducts:
		var b strings.Builder
		b.WriteString("Here are our current products:\n")
		for _, p := range c.Products {
			fmt.Fprintf(&b, "• %s - %s (%d in stock)\n", p.Name, p.Price, p.Stock)
		}
		b.WriteString("\nFor more details, please contact our support team.")
		return b.String()
	case TopicReturns:
		return fmt.Sprintf("Our return policy: %s. For specific return requests, please contact our support team.", c.Policies.Return)
	case TopicShipping:
		return fmt.Sprintf("%s. Standard delivery takes 3-5 business days. For order tracking, please contact support.", c.Policies.Shipping)
	case TopicWarranty:
		return fmt.Sprintf("All products come with %s. For warranty claims, please contact our support team.", c.Policies.Warranty)
	default:
		return "Hello! I'm here to help with product information, orders, returns, and shipping. " +
			"Due to high demand, I'm operating in simplified mode. Please contact our support team for detailed assistance."
	}
}

const (
	maxCartLines    = 20
	maxCartQuantity = 99
)

// Lookup returns the product with the given ID.
func (c Catalog) Lookup(id string) (Product, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// CartSummary renders the cart for the system prompt. Unknown product IDs
// are dropped and quantities clamped, so nothing the client typed reaches
// the prompt verbatim. Empty when no line resolves.
func (c Catalog) CartSummary(cart *Cart) string {
	if cart == nil {
		return ""
	}
	var lines []string
	for _, item := range cart.Items {
		if len(lines) == maxCartLines {
			break
		}
		p, ok := c.Lookup(item.ID)
		if !ok || item.Quantity <= 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s x%d (%s each)", p.Name, min(item.Quantity, maxCartQuantity), p.Price))
	}
	if len(lines) == 0 {
		return ""
	}
	return "The customer's cart currently contains:\n" + strings.Join(lines, "\n")
}

// Instructions returns the system prompt with the cart summary appended.
func (c Catalog) Instructions(cart *Cart) string {
	prompt := c.SystemPrompt()
	if summary := c.CartSummary(cart); summary != "" {
		prompt += "\n\n" + summary
	}
	return prompt
}
