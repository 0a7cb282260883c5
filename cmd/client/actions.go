package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/atinyakov/freshtrio/internal/client/identity"
	"github.com/atinyakov/freshtrio/internal/client/orders"
	"github.com/atinyakov/freshtrio/internal/models"
)

var errNotSignedIn = errors.New("not signed in, run `freshtrio login` first")

func money(d decimal.Decimal) string { return "£" + d.StringFixed(2) }

func displayName(u *models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

func (a *app) requireAuth(ctx context.Context) error {
	if !a.auth.IsAuthenticated(ctx) {
		return errNotSignedIn
	}
	return nil
}

// Account.

func (a *app) signUp(ctx context.Context, email string) error {
	email, err := a.in.orPrompt(email, "Email: ")
	if err != nil {
		return err
	}
	password, err := a.in.Secret("Password: ")
	if err != nil {
		return err
	}
	u, err := a.auth.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Welcome to FreshTrio, %s!\n", displayName(u))
	return nil
}

func (a *app) login(ctx context.Context, email string) error {
	email, err := a.in.orPrompt(email, "Email: ")
	if err != nil {
		return err
	}
	password, err := a.in.Secret("Password: ")
	if err != nil {
		return err
	}
	u, err := a.auth.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", displayName(u))
	return nil
}

func (a *app) loginGoogle(ctx context.Context) error {
	fmt.Fprintln(a.out, "Complete the sign-in in your browser...")
	u, err := a.auth.SignInWithGoogle(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", displayName(u))
	return nil
}

func (a *app) logout(ctx context.Context) error {
	a.auth.SignOut(ctx)
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	u, ok := a.auth.CurrentUser(ctx)
	if !ok {
		fmt.Fprintln(a.out, "Not signed in")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", u.ID)
	fmt.Fprintf(w, "Email:\t%s\n", u.Email)
	if u.DisplayName != "" {
		fmt.Fprintf(w, "Name:\t%s\n", u.DisplayName)
	}
	fmt.Fprintf(w, "Role:\t%s\n", u.Role)
	fmt.Fprintf(w, "Provider:\t%s\n", u.Provider)
	fmt.Fprintf(w, "Session:\t%s\n", a.session.State(ctx))
	return w.Flush()
}

func (a *app) resetPassword(ctx context.Context, email string) error {
	email, err := a.in.orPrompt(email, "Email: ")
	if err != nil {
		return err
	}
	if err := a.auth.SendPasswordReset(ctx, email); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Password reset email sent to %s\n", email)
	return nil
}

func (a *app) verifyEmail(ctx context.Context) error {
	if err := a.auth.SendEmailVerification(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Verification email sent if your address was not verified yet")
	return nil
}

func (a *app) profile(ctx context.Context) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	p, err := a.api.Users.Profile(ctx)
	if err != nil {
		return err
	}
	return a.printProfile(p)
}

// profileEdit holds the fields given to `profile update`. Empty fields are
// left unchanged.
type profileEdit struct {
	models.ProfileUpdate
	PhotoURL string
}

var errNothingToUpdate = errors.New("nothing to update, pass at least one field")

// updateProfile writes the backend profile, then mirrors the name and
// photo to the identity provider and the cached user.
func (a *app) updateProfile(ctx context.Context, edit profileEdit) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	if edit.ProfileUpdate == (models.ProfileUpdate{}) && edit.PhotoURL == "" {
		return errNothingToUpdate
	}

	var (
		p   *models.Profile
		err error
	)
	if edit.ProfileUpdate != (models.ProfileUpdate{}) {
		p, err = a.api.Users.UpdateProfile(ctx, edit.ProfileUpdate)
	} else {
		p, err = a.api.Users.Profile(ctx)
	}
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	var changes identity.ProfileChanges
	if edit.FirstName != "" || edit.LastName != "" {
		name := p.DisplayName()
		changes.DisplayName = &name
	}
	if edit.PhotoURL != "" {
		changes.PhotoURL = &edit.PhotoURL
	}
	if changes.DisplayName != nil || changes.PhotoURL != nil {
		if err := a.auth.UpdateProfile(ctx, changes); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.out, "Profile updated")
	return a.printProfile(p)
}

func (a *app) printProfile(p *models.Profile) error {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", p.DisplayName())
	fmt.Fprintf(w, "Email:\t%s\n", p.Email)
	fmt.Fprintf(w, "Phone:\t%s\n", p.Phone)
	fmt.Fprintf(w, "Address:\t%s\n", p.Address)
	fmt.Fprintf(w, "Role:\t%s\n", models.ParseRole(p.Role))
	return w.Flush()
}

func (a *app) deleteAccount(ctx context.Context, confirmed bool) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	if !confirmed {
		ok, err := a.in.Confirm("Delete your account permanently?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.out, "Cancelled")
			return nil
		}
	}
	if err := a.api.Users.DeleteAccount(ctx); err != nil {
		return fmt.Errorf("delete backend account: %w", err)
	}
	if err := a.auth.DeleteAccount(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Account deleted")
	return nil
}

// Catalog.

func (a *app) printProducts(page *models.ProductPage) error {
	if len(page.Content) == 0 {
		fmt.Fprintln(a.out, "No products found")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE")
	for _, p := range page.Content {
		price := money(p.Price)
		if p.Unit != "" {
			price += "/" + p.Unit
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Category, price)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if page.TotalPages > 1 {
		fmt.Fprintf(a.out, "Page %d of %d (%d products)\n", page.Number+1, page.TotalPages, page.TotalElements)
	}
	return nil
}

func (a *app) products(ctx context.Context, category string, page int) error {
	if category == "" && page == 0 {
		home, err := a.catalog.Home(ctx)
		if err != nil {
			return err
		}
		if len(home.Categories) > 0 {
			fmt.Fprintf(a.out, "Categories: %s\n\n", strings.Join(home.Categories, ", "))
		}
		return a.printProducts(home.Products)
	}
	res, err := a.catalog.ByCategory(ctx, category, page)
	if err != nil {
		return err
	}
	return a.printProducts(res)
}

func (a *app) product(ctx context.Context, id string) error {
	p, err := a.catalog.Product(ctx, id)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", p.ID)
	fmt.Fprintf(w, "Name:\t%s\n", p.Name)
	fmt.Fprintf(w, "Category:\t%s\n", p.Category)
	fmt.Fprintf(w, "Price:\t%s\n", money(p.Price))
	if p.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", p.Description)
	}
	return w.Flush()
}

func (a *app) search(ctx context.Context, q string, page int) error {
	res, err := a.catalog.Search(ctx, q, page)
	if err != nil {
		return err
	}
	return a.printProducts(res)
}

// Cart.

func (a *app) cartShow() error {
	st := a.cart.State()
	if len(st.Items) == 0 {
		fmt.Fprintln(a.out, "Your cart is empty")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tQTY\tPRICE\tSUBTOTAL")
	for _, it := range st.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", it.Product.ID, it.Product.Name, it.Quantity, money(it.Product.Price), money(it.Subtotal()))
	}
	fmt.Fprintf(w, "\t\t\tTOTAL\t%s\n", money(st.Total))
	return w.Flush()
}

func (a *app) cartAdd(ctx context.Context, productID string, qty int) error {
	p, err := a.catalog.Product(ctx, productID)
	if err != nil {
		return err
	}
	if err := a.cart.Add(ctx, *p, qty); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %d × %s (%d items in cart)\n", qty, p.Name, a.cart.Count())
	return nil
}

func (a *app) cartRemove(ctx context.Context, productID string) error {
	a.cart.Remove(ctx, productID)
	fmt.Fprintf(a.out, "Removed %s (%d items in cart)\n", productID, a.cart.Count())
	return nil
}

func (a *app) cartSet(ctx context.Context, productID string, qty int) error {
	a.cart.UpdateQuantity(ctx, productID, qty)
	fmt.Fprintf(a.out, "Cart has %d items, total %s\n", a.cart.Count(), money(a.cart.State().Total))
	return nil
}

func (a *app) cartClear(ctx context.Context) error {
	a.cart.Clear(ctx)
	fmt.Fprintln(a.out, "Cart cleared")
	return nil
}

// Orders.

func (a *app) checkout(ctx context.Context, co orders.Checkout, confirmed bool) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	if len(a.cart.State().Items) == 0 {
		return orders.ErrEmptyCart
	}
	var err error
	if co.DeliveryDate, err = a.in.orPrompt(co.DeliveryDate, "Delivery date (YYYY-MM-DD): "); err != nil {
		return err
	}
	if co.Address.Street, err = a.in.orPrompt(co.Address.Street, "Street: "); err != nil {
		return err
	}
	if co.Address.City, err = a.in.orPrompt(co.Address.City, "City: "); err != nil {
		return err
	}
	if co.Address.PostalCode, err = a.in.orPrompt(co.Address.PostalCode, "Postal code: "); err != nil {
		return err
	}

	if err := a.cartShow(); err != nil {
		return err
	}
	if !confirmed {
		ok, err := a.in.Confirm("Place this order?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.out, "Cancelled")
			return nil
		}
	}

	order, err := a.orders.PlaceOrder(ctx, co)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Order %s placed, total %s, delivery on %s\n", order.ID, money(order.TotalAmount), order.DeliveryDate)
	return nil
}

func (a *app) ordersList(ctx context.Context) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	list, err := a.orders.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No orders yet")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDELIVERY\tTOTAL")
	for _, o := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.ID, o.Status, o.DeliveryDate, money(o.TotalAmount))
	}
	return w.Flush()
}

func (a *app) orderShow(ctx context.Context, id string) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	o, err := a.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Order:\t%s\n", o.ID)
	fmt.Fprintf(w, "Status:\t%s\n", o.Status)
	fmt.Fprintf(w, "Delivery:\t%s\n", o.DeliveryDate)
	if o.Address != nil {
		fmt.Fprintf(w, "Address:\t%s, %s %s\n", o.Address.Street, o.Address.City, o.Address.PostalCode)
	}
	for _, it := range o.Items {
		fmt.Fprintf(w, "  %s\t%d × %s\n", it.Product.Name, it.Quantity, money(it.UnitPrice))
	}
	fmt.Fprintf(w, "Total:\t%s\n", money(o.TotalAmount))
	return w.Flush()
}

func (a *app) orderTrack(ctx context.Context, id string) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	tr, err := a.orders.Track(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Order %s is %s", tr.OrderID, tr.Status)
	if tr.EstimatedArrival != nil {
		fmt.Fprintf(a.out, ", arriving around %s", tr.EstimatedArrival.Local().Format("15:04"))
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) orderCancel(ctx context.Context, id string) error {
	if err := a.requireAuth(ctx); err != nil {
		return err
	}
	o, err := a.orders.Cancel(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Order %s is now %s\n", o.ID, o.Status)
	return nil
}
