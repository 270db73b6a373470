package conversation

import (
	"fmt"
	"strings"

	"github.com/wolfman30/machinery-leadbot/internal/catalog"
	"github.com/wolfman30/machinery-leadbot/internal/messaging"
)

const (
	msgNoItems      = "Sorry, there are no items available here right now. Type \"hi\" to see the full catalog."
	msgUnrecognized = "Sorry, I didn't understand that. Please choose an option from the menu, or type \"hi\" to start over."
	msgDeclined     = "No problem! Let's look at something else."
	msgDeclinedDone = "No problem, thanks for your time. Type \"hi\" whenever you'd like to browse again."
)

func categoryMenu(displayName string, categories []catalog.Category) messaging.List {
	greeting := "Welcome!"
	if name := strings.TrimSpace(displayName); name != "" {
		greeting = fmt.Sprintf("Hi %s, welcome!", name)
	}
	rows := make([]messaging.Row, 0, len(categories))
	for _, c := range categories {
		if len(rows) == messaging.MaxListRows {
			break
		}
		rows = append(rows, messaging.Row{ID: c.ID, Title: c.Title, Description: c.Description})
	}
	return messaging.List{
		Header:     "Machinery Catalog",
		Body:       greeting + " Choose a category to explore our machines.",
		ButtonText: "View categories",
		Rows:       rows,
	}
}

func productMenu(category catalog.Category, products []catalog.ProductRef) messaging.List {
	rows := make([]messaging.Row, 0, len(products))
	for _, p := range products {
		if len(rows) == messaging.MaxListRows {
			break
		}
		rows = append(rows, messaging.Row{ID: p.ID, Title: p.Name, Description: p.Description})
	}
	title := category.Title
	if title == "" {
		title = "this category"
	}
	return messaging.List{
		Header:     category.Title,
		Body:       fmt.Sprintf("Here are our machines in %s. Pick one to learn more.", title),
		ButtonText: "View machines",
		Rows:       rows,
	}
}

func interestButtons() []messaging.Button {
	return []messaging.Button{
		{ID: InterestYesID, Title: "Yes, interested"},
		{ID: InterestNoID, Title: "No, thanks"},
		{ID: InterestInfoID, Title: "More info"},
	}
}

func confirmPrompt(productName string) messaging.Buttons {
	return messaging.Buttons{
		Body:    fmt.Sprintf("You selected %s. Are you interested in this machine?", productName),
		Buttons: interestButtons(),
	}
}

func detailPrompt(product catalog.ProductRef) messaging.Buttons {
	return messaging.Buttons{
		Body:    product.DetailText() + "\n\nAre you interested in this machine?",
		Buttons: interestButtons(),
	}
}

func interestedAck(productName string) messaging.Text {
	return messaging.Text{Body: fmt.Sprintf(
		"Thank you for your interest in %s! Our sales team will contact you shortly with pricing and availability.",
		productName,
	)}
}
