package chrome

// bindingName is the runtime binding the page reports events through.
const bindingName = "goguideEvent"

// runtimeJS is installed in every document of the tab. It hands out stable
// keys for elements, prefixed with a random document id so keys of an
// unloaded document never resolve in the next one. It forwards observed mutations, user events and viewport
// changes to the binding and draws the overlay nodes.
const runtimeJS = `(() => {
  if (window.__goguide) return;
  const els = new Map();
  const keys = new WeakMap();
  const subs = new Map();
  const overlays = new Map();
  const doc = Math.random().toString(36).slice(2, 10) + Date.now().toString(36);
  let next = 0;
  const key = (el) => {
    if (!el) return "";
    let k = keys.get(el);
    if (!k) {
      k = doc + "." + (++next);
      keys.set(el, k);
      els.set(k, new WeakRef(el));
    }
    return k;
  };
  const get = (k) => {
    const r = els.get(k);
    return r ? r.deref() : undefined;
  };
  const emit = (m) => {
    if (typeof window.` + bindingName + ` === "function") window.` + bindingName + `(JSON.stringify(m));
  };
  for (const t of ["scroll", "resize", "orientationchange"]) {
    window.addEventListener(t, () => emit({type: "viewport", kind: t}), {passive: true});
  }
  const box = (style) => {
    const n = document.createElement("div");
    Object.assign(n.style, {position: "absolute", pointerEvents: "none", zIndex: "2147483647", transition: "opacity .2s"}, style);
    return n;
  };
  window.__goguide = {
    query(sel) { return Array.from(document.querySelectorAll(sel), key); },
    body() { return key(document.body); },
    info(k) {
      const el = get(k);
      if (!el || !el.isConnected) return {attached: false};
      const cs = getComputedStyle(el);
      const r = el.getBoundingClientRect();
      const attrs = {};
      for (const a of el.attributes) attrs[a.name] = a.value;
      return {
        attached: true,
        tag: el.tagName.toLowerCase(),
        attrs,
        text: el.textContent || "",
        parent: key(el.parentElement),
        rect: {top: r.top, left: r.left, width: r.width, height: r.height},
        visible: cs.display !== "none" && cs.visibility !== "hidden" && !el.hidden && r.width > 0 && r.height > 0,
        z: parseInt(cs.zIndex, 10) || 0,
      };
    },
    viewport() {
      return {width: window.innerWidth, height: window.innerHeight, scroll: {x: window.scrollX, y: window.scrollY}};
    },
    scrollTo(x, y) { window.scrollTo(x, y); },
    observe(id, k, opts) {
      const el = get(k);
      if (!el) return false;
      const o = new MutationObserver(() => emit({type: "mutation", id}));
      o.observe(el, opts);
      subs.set(id, () => o.disconnect());
      return true;
    },
    listen(id, k, kinds) {
      const el = get(k);
      if (!el) return false;
      const fn = (e) => emit({type: "event", id, kind: e.type, value: e.target && "value" in e.target ? String(e.target.value) : ""});
      for (const t of kinds) el.addEventListener(t, fn, true);
      subs.set(id, () => { for (const t of kinds) el.removeEventListener(t, fn, true); });
      return true;
    },
    unsubscribe(id) {
      const f = subs.get(id);
      if (f) { f(); subs.delete(id); }
    },
    mount(id, v) {
      const root = box({left: "0", top: "0", opacity: "0"});
      const hl = box({border: "2px solid #4f46e5", borderRadius: "6px", boxShadow: "0 0 0 4000px rgba(0,0,0,.25)", display: v.highlight ? "block" : "none"});
      const cursor = box({width: "18px", height: "18px", borderRadius: "50%", background: "#4f46e5", display: v.cursor ? "block" : "none"});
      const card = box({maxWidth: "320px", padding: "12px 14px", background: "#fff", color: "#111", borderRadius: "8px", font: "14px/1.4 system-ui, sans-serif", boxShadow: "0 4px 16px rgba(0,0,0,.2)"});
      const title = document.createElement("div");
      title.style.fontWeight = "600";
      title.textContent = v.title;
      const text = document.createElement("div");
      text.textContent = v.text;
      const count = document.createElement("div");
      count.style.cssText = "opacity:.6;font-size:12px;margin-top:6px";
      count.textContent = v.count > 0 ? (v.index + 1) + " / " + v.count : "";
      card.append(title, text, count);
      root.append(hl, cursor, card);
      document.documentElement.append(root);
      overlays.set(id, {root, hl, cursor, card, text});
    },
    place(id, r) {
      const o = overlays.get(id);
      if (!o) return;
      Object.assign(o.hl.style, {left: (r.left - 4) + "px", top: (r.top - 4) + "px", width: (r.width + 8) + "px", height: (r.height + 8) + "px"});
      Object.assign(o.cursor.style, {left: (r.left + r.width / 2 - 9) + "px", top: (r.top + r.height / 2 - 9) + "px"});
      Object.assign(o.card.style, {left: r.left + "px", top: (r.top + r.height + 12) + "px"});
    },
    opacity(id, v) {
      const o = overlays.get(id);
      if (o) o.root.style.opacity = String(v);
    },
    text(id, s) {
      const o = overlays.get(id);
      if (o) o.text.textContent = s;
    },
    unmount(id) {
      const o = overlays.get(id);
      if (o) { o.root.remove(); overlays.delete(id); }
    },
    flag(op) {
      const k = "goguide.session";
      if (op === "set") sessionStorage.setItem(k, "1");
      if (op === "clear") sessionStorage.removeItem(k);
      return sessionStorage.getItem(k) === "1";
    },
  };
})();`
