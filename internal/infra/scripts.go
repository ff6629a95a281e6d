package infra

import (
	"encoding/json"
	"fmt"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// Every script starts with a /*connprune:<name>*/ tag so it can be told apart
// in logs and in tests. Scripts always return a value; none return undefined.

const cardAttr = "data-connprune-card"

func script(name, body string, args ...any) string {
	quoted := make([]any, len(args))
	for i, arg := range args {
		quoted[i] = jsLiteral(arg)
	}
	return "/*connprune:" + name + "*/" + fmt.Sprintf(body, quoted...)
}

// jsLiteral renders v as a JavaScript literal.
func jsLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// locateCardScript marks the card of a contact and scrolls it into view. It
// returns the display name found on the card, or "" when there is no card.
func locateCardScript(id, name string) string {
	return script("locate", `(() => {
  const id = %s, name = %s, attr = %s;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const linksTo = (href) => {
    if (!href || id.startsWith(%s)) return false;
    const m = href.match(/profile\.php\?id=(\d+)/);
    if (m) return m[1] === id;
    const path = href.replace(/^https?:\/\/[^/]*facebook\.com/, '');
    return path.split(/[/?#]/)[1] === id;
  };
  let card = null;
  for (const a of document.querySelectorAll('a[href]')) {
    if (!linksTo(a.getAttribute('href'))) continue;
    card = a.closest('div[role="article"]') || a.closest('div[data-visualcompletion="ignore-dynamic"]') || a.parentElement;
    if (card) break;
  }
  if (!card && name) {
    card = Array.from(document.querySelectorAll('div[role="article"]')).find(el => el.textContent.includes(name)) || null;
  }
  if (!card) return '';
  card.setAttribute(attr, '1');
  card.scrollIntoView({block: 'center'});
  const label = card.querySelector('span[dir="auto"], h2, h3, strong');
  return (label && label.textContent.trim()) || name || id;
})()`, id, name, cardAttr, domain.SyntheticPrefix)
}

// openCardMenuScript clicks the menu button inside the marked card.
func openCardMenuScript() string {
	return script("open-card-menu", `(() => {
  const card = document.querySelector('[' + %s + ']');
  if (!card) return false;
  const icon = card.querySelector('i[data-visualcompletion="css-img"]');
  const button = card.querySelector('[aria-label="Friends"]') ||
    card.querySelector('[aria-label="More"]') ||
    (icon && icon.closest('div[role="button"]')) ||
    card.querySelector('div[aria-haspopup="menu"]') ||
    card.querySelector('div[role="button"]');
  if (!button) return false;
  button.scrollIntoView({block: 'center'});
  button.click();
  return true;
})()`, cardAttr)
}

// openProfileMenuScript clicks the friendship button on a profile page.
func openProfileMenuScript() string {
	return script("open-profile-menu", `(() => {
  const buttons = Array.from(document.querySelectorAll('div[role="button"]'));
  const button =
    buttons.find(b => (b.getAttribute('aria-label') || '').includes('Friends')) ||
    buttons.find(b => b.textContent.includes('Friends')) ||
    document.querySelector('div[aria-haspopup="menu"]') ||
    document.querySelector('div[data-pagelet="ProfileActions"] div[role="button"]') ||
    document.querySelector('div[data-pagelet="ProfileHeader"] div[role="button"]');
  if (!button) return false;
  button.scrollIntoView({block: 'center'});
  button.click();
  return true;
})()`)
}

func menuOpenScript() string {
	return script("menu-open", `!!document.querySelector('div[role="menu"]')`)
}

func dialogOpenScript() string {
	return script("dialog-open", `!!document.querySelector('div[role="dialog"]')`)
}

// menuTerms are the lower-case fragments identifying each action's menu item.
// A slice of terms matches when all of them occur in the item text.
var menuTerms = map[domain.ActionKind][][]string{
	domain.ActionRemoveConnection: {
		{"unfriend"},
		{"remove", "friend"},
		{"delete friend"},
	},
	domain.ActionUnfollow: {
		{"following"},
		{"unfollow"},
		{"follow"},
		{"news feed"},
		{"updates"},
	},
}

// clickMenuItemScript clicks the first menu item matching kind. When none
// matches the menu is dismissed and false returned.
func clickMenuItemScript(kind domain.ActionKind) string {
	return script("click-menu-item", `(() => {
  const terms = %s;
  const item = Array.from(document.querySelectorAll('div[role="menuitem"]')).find(el => {
    const text = el.textContent.toLowerCase();
    return terms.some(all => all.every(t => text.includes(t)));
  });
  if (!item) {
    document.body.click();
    return false;
  }
  item.click();
  return true;
})()`, menuTerms[kind])
}

// confirmDialogScript clicks the dialog's confirm button. With anyButton set
// the first dialog button is used when no label matches. It returns
// "confirm", "any" or "".
func confirmDialogScript(anyButton bool) string {
	return script("confirm-dialog", `(() => {
  const buttons = Array.from(document.querySelectorAll('div[role="dialog"] div[role="button"]'));
  const confirm = buttons.find(b => {
    const text = b.textContent.toLowerCase();
    return ['confirm', 'remove', 'unfriend', 'ok', 'yes'].some(t => text.includes(t));
  });
  if (confirm) {
    confirm.click();
    return 'confirm';
  }
  if (%s && buttons.length > 0) {
    buttons[0].click();
    return 'any';
  }
  return '';
})()`, anyButton)
}

// scrollSidebarScript scrolls the navigation sidebar to its end so more
// contacts materialise before a scan. It returns false when there is none.
func scrollSidebarScript() string {
	return script("scroll-sidebar", `(() => {
  const first = document.querySelector('div[data-visualcompletion="ignore-dynamic"] a[role="link"]');
  const sidebar = (first && first.closest('div[role="navigation"]')) || document.querySelector('div[role="navigation"]');
  if (!sidebar) return false;
  sidebar.scrollTop = sidebar.scrollHeight;
  return true;
})()`)
}

const containerAttr = "data-connprune-scroll"

// prepareContainerScript finds and marks the scrollable element holding the
// contact list. It returns a short description of what was found, or "".
func prepareContainerScript() string {
	return script("prepare", `(() => {
  const attr = %s;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const scrollable = el => el && el.scrollHeight > el.clientHeight + 10 &&
    ['auto', 'scroll'].includes(getComputedStyle(el).overflowY);
  const climb = el => {
    for (let cur = el; cur && cur !== document.body; cur = cur.parentElement) {
      if (scrollable(cur)) return cur;
    }
    return null;
  };
  const candidates = [
    ['list', document.querySelector('div[role="main"] div[role="list"]')],
    ['article', document.querySelector('div[role="main"] div[role="article"]')],
    ['navigation', document.querySelector('div[role="navigation"]')],
    ['main', document.querySelector('div[role="main"]')],
  ];
  for (const [kind, el] of candidates) {
    const found = climb(el);
    if (found) {
      found.setAttribute(attr, '1');
      return kind;
    }
  }
  const root = document.scrollingElement || document.documentElement;
  root.setAttribute(attr, '1');
  return 'document';
})()`, containerAttr)
}

func extentScript() string {
	return script("extent", `(() => {
  const el = document.querySelector('[' + %s + ']') || document.scrollingElement || document.documentElement;
  return el.scrollHeight;
})()`, containerAttr)
}

// advanceScript scrolls the container to its end and nudges it with a wheel event.
func advanceScript() string {
	return script("advance", `(() => {
  const el = document.querySelector('[' + %s + ']') || document.scrollingElement || document.documentElement;
  el.scrollTop = el.scrollHeight;
  el.scrollBy(0, 1000);
  el.dispatchEvent(new WheelEvent('wheel', {deltaY: 1000, bubbles: true}));
  return el.scrollHeight;
})()`, containerAttr)
}

// fallbackScript is the alternate discovery used when the extent stops
// growing: scroll every candidate, press "see more" style buttons, fire
// scroll events and briefly grow the container to trigger lazy loading.
func fallbackScript() string {
	return script("fallback", `(() => {
  const el = document.querySelector('[' + %s + ']') || document.scrollingElement || document.documentElement;
  const main = document.querySelector('div[role="main"]');
  if (main) main.scrollTop = main.scrollHeight;
  window.scrollTo(0, document.body.scrollHeight);
  let clicked = 0;
  document.querySelectorAll('div[role="button"], a[role="button"], span').forEach(b => {
    const text = b.textContent.trim().toLowerCase();
    if (text === 'see more' || text === 'load more' || text === 'show more') {
      b.click();
      clicked++;
    }
  });
  el.dispatchEvent(new Event('scroll', {bubbles: true}));
  window.dispatchEvent(new Event('scroll'));
  const height = el.style.height;
  el.style.height = (el.clientHeight + 2000) + 'px';
  window.dispatchEvent(new Event('resize'));
  setTimeout(() => { el.style.height = height; window.dispatchEvent(new Event('resize')); }, 500);
  return clicked;
})()`, containerAttr)
}
