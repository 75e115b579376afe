// Package telegram is the chat front end: it turns navigation views into
// inline keyboards and carries execution results back to the chat.
package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"fleetbot/internal/dispatch"
	"fleetbot/internal/models"
	"fleetbot/internal/navigation"
)

// MachinesPerRow is how many machine buttons share a keyboard row.
const MachinesPerRow = 4

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

func button(label string, a navigation.Action) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, dispatch.Token(a))
}

// pager builds the prev / p/N / next row, or nil when there is one page.
func pager(page, pages int, at func(p int) navigation.Action) []tgbotapi.InlineKeyboardButton {
	if pages <= 1 {
		return nil
	}
	var row []tgbotapi.InlineKeyboardButton
	if page > 0 {
		row = append(row, button("◀️ Prev", at(page-1)))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d/%d", page+1, pages), dispatch.TokenNoop))
	if page < pages-1 {
		row = append(row, button("Next ▶️", at(page+1)))
	}
	return row
}

// Render turns a view into HTML text and its inline keyboard.
func Render(v navigation.View) (string, tgbotapi.InlineKeyboardMarkup) {
	var rows [][]tgbotapi.InlineKeyboardButton
	var b strings.Builder

	switch v.State.Kind {
	case navigation.ServerList:
		b.WriteString("🖥 <b>Select a server</b>\n")
		if v.ServerNum == 0 {
			b.WriteString("No servers are configured.")
			break
		}
		fmt.Fprintf(&b, "<i>Page %d of %d</i>\n", v.Page+1, v.Pages)
		fmt.Fprintf(&b, "<i>Servers %d-%d of %d</i>", v.ServerFrom, v.ServerTo, v.ServerNum)
		for _, s := range v.Servers {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				button(serverLabel(s), navigation.Action{Verb: navigation.VerbPickServer, Server: s.ID})))
		}
		if row := pager(v.Page, v.Pages, func(p int) navigation.Action {
			return navigation.Action{Verb: navigation.VerbServerPage, Page: p}
		}); row != nil {
			rows = append(rows, row)
		}

	case navigation.MachineList:
		id := v.Server.ID
		fmt.Fprintf(&b, "🖥 <b>%s</b>\nSelect a machine to update\n", esc(v.Server.Name))
		fmt.Fprintf(&b, "<i>Page %d of %d</i>\n", v.Page+1, v.Pages)
		if len(v.Machines) > 0 {
			fmt.Fprintf(&b, "<i>Machines %d-%d of %d</i>", v.Machines[0], v.Machines[len(v.Machines)-1], v.Server.Machines)
		}
		var row []tgbotapi.InlineKeyboardButton
		for _, n := range v.Machines {
			row = append(row, button(models.MachineLabel(n), navigation.Action{Verb: navigation.VerbPickMachine, Server: id, Machine: n}))
			if len(row) == MachinesPerRow {
				rows = append(rows, row)
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
		if nav := pager(v.Page, v.Pages, func(p int) navigation.Action {
			return navigation.Action{Verb: navigation.VerbMachinePage, Server: id, Page: p}
		}); nav != nil {
			rows = append(rows, nav)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button("🔄 Update all", navigation.Action{Verb: navigation.VerbUpdateAll, Server: id}),
			button("🏠 Servers", navigation.Action{Verb: navigation.VerbBackToServers, Server: id}),
		))

	case navigation.ModeSelect:
		at := func(verb navigation.Verb) navigation.Action {
			return navigation.Action{Verb: verb, Server: v.Server.ID, Machine: v.State.Machine}
		}
		fmt.Fprintf(&b, "🖥 <b>%s</b> / <b>%s</b>\n", esc(v.Server.Name), models.MachineLabel(v.State.Machine))
		fmt.Fprintf(&b, "Address: <code>%s</code>\nChoose the update mode.", esc(v.Address))
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(
				button("▶️ Normal update", at(navigation.VerbNormal)),
				button("⚠️ Force update", at(navigation.VerbForce)),
			),
			tgbotapi.NewInlineKeyboardRow(button("◀️ Back", at(navigation.VerbBack))),
		)

	case navigation.ForceConfirm:
		at := func(verb navigation.Verb) navigation.Action {
			return navigation.Action{Verb: verb, Server: v.Server.ID, Machine: v.State.Machine}
		}
		fmt.Fprintf(&b, "⚠️ <b>Force update %s on %s?</b>\n", models.MachineLabel(v.State.Machine), esc(v.Server.Name))
		fmt.Fprintf(&b, "Address: <code>%s</code>\nLocal changes on the machine will be overwritten.", esc(v.Address))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			button("✅ Confirm", at(navigation.VerbConfirm)),
			button("✖️ Cancel", at(navigation.VerbCancel)),
		))
	}

	if len(rows) == 0 {
		return b.String(), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}
	return b.String(), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func serverLabel(s models.ServerDescriptor) string {
	label := s.Name + " · " + strconv.Itoa(s.Machines) + " PCs"
	if s.Location != "" {
		label += " · " + s.Location
	}
	return label
}

// LaunchNotice is posted when an execution starts; the result follows separately.
func LaunchNotice(job models.Job) string {
	target := "all machines"
	if job.Single() {
		target = models.MachineLabel(job.Machine)
	}
	return fmt.Sprintf("🔄 <b>%s update of %s on %s started</b>\nPlease wait, the result will follow.",
		modeTitle(job.Mode), target, esc(job.Server.Name))
}

func modeTitle(m models.Mode) string {
	switch m {
	case models.ModeForce:
		return "Force"
	case models.ModeAll:
		return "Full"
	}
	return "Normal"
}
