package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/orders"
)

const replHelp = `Available commands:
  products [category] [page]   list products
  product <id>                 show a product
  search <query>               search products
  cart                         show the cart
  add <id> [qty]               add to the cart
  set <id> <qty>               set a quantity, 0 removes
  remove <id>                  remove from the cart
  clear                        empty the cart
  checkout                     place an order
  orders                       list your orders
  order <id>                   show an order
  track <id>                   track a delivery
  cancel <id>                  cancel an order
  signup | login | google | logout | whoami
  help, exit`

// repl runs the interactive shell loop. Auth-state changes are reconciled in
// the background while it runs.
func repl(ctx context.Context, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.auth.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("auth watch stopped", zap.Error(err))
		}
	}()
	defer wg.Wait()
	defer cancel()

	if u, ok := a.auth.CurrentUser(ctx); ok {
		fmt.Fprintf(a.out, "Signed in as %s (%s)\n", displayName(u), u.Role)
	}
	fmt.Fprintln(a.out, "Type 'help' for a list of commands.")

	for {
		line, err := a.in.Line("freshtrio> ")
		if errors.Is(err, errNoInput) {
			fmt.Fprintln(a.out)
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			fmt.Fprintln(a.out, "Bye")
			return nil
		}
		if err := dispatch(ctx, a, args); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(a.out, "Error: %v\n", err)
		}
	}
}

func usage(s string) error { return fmt.Errorf("usage: %s", s) }

// atoiArg returns args[i] as an int, or def when absent.
func atoiArg(args []string, i, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", args[i])
	}
	return n, nil
}

func dispatch(ctx context.Context, a *app, args []string) error {
	switch args[0] {
	case "help":
		fmt.Fprintln(a.out, replHelp)
		return nil
	case "products":
		category := ""
		if len(args) > 1 {
			category = args[1]
		}
		page, err := atoiArg(args, 2, 0)
		if err != nil {
			return err
		}
		return a.products(ctx, category, page)
	case "product":
		if len(args) < 2 {
			return usage("product <id>")
		}
		return a.product(ctx, args[1])
	case "search":
		if len(args) < 2 {
			return usage("search <query>")
		}
		return a.search(ctx, strings.Join(args[1:], " "), 0)
	case "cart":
		return a.cartShow()
	case "add":
		if len(args) < 2 {
			return usage("add <id> [qty]")
		}
		qty, err := atoiArg(args, 2, 1)
		if err != nil {
			return err
		}
		return a.cartAdd(ctx, args[1], qty)
	case "set":
		if len(args) < 3 {
			return usage("set <id> <qty>")
		}
		qty, err := atoiArg(args, 2, 0)
		if err != nil {
			return err
		}
		return a.cartSet(ctx, args[1], qty)
	case "remove":
		if len(args) < 2 {
			return usage("remove <id>")
		}
		return a.cartRemove(ctx, args[1])
	case "clear":
		return a.cartClear(ctx)
	case "checkout":
		return a.checkout(ctx, orders.Checkout{}, false)
	case "orders":
		return a.ordersList(ctx)
	case "order":
		if len(args) < 2 {
			return usage("order <id>")
		}
		return a.orderShow(ctx, args[1])
	case "track":
		if len(args) < 2 {
			return usage("track <id>")
		}
		return a.orderTrack(ctx, args[1])
	case "cancel":
		if len(args) < 2 {
			return usage("cancel <id>")
		}
		return a.orderCancel(ctx, args[1])
	case "signup":
		return a.signUp(ctx, optionalArg(args[1:]))
	case "login":
		return a.login(ctx, optionalArg(args[1:]))
	case "google":
		return a.loginGoogle(ctx)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", args[0])
	}
}
